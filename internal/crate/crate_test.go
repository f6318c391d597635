package crate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonical_FoldsCaseAndUnderscores(t *testing.T) {
	require.Equal(t, "serde-json", Canonical("Serde_JSON"))
	require.Equal(t, "tokio", Canonical("tokio"))
	require.Equal(t, "my-crate", Canonical("my_crate"))
}

func TestPathInIndex_ShardLayout(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"a", "1/a"},
		{"ab", "2/ab"},
		{"abc", "3/a/abc"},
		{"serde", "se/rd/serde"},
		{"Serde_JSON", "se/rd/serde-json"},
		{"", ""},
	}
	for _, c := range cases {
		require.Equal(t, c.want, PathInIndex(c.name), "name %q", c.name)
	}
}

func TestManifestPath(t *testing.T) {
	c := Crate{Name: "test", Version: "0.1.0", Manifest: "/work/test-0.1.0/Cargo.toml"}
	require.Equal(t, "/work/test-0.1.0/Cargo.toml", c.ManifestPath())
}
