package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const fullManifest = `
[package]
name = "test"

[package.metadata.docs.rs]
features = [ "feature1", "feature2" ]
all-features = true
no-default-features = true
default-target = "x86_64-unknown-linux-gnu"
rustc-args = [ "--example-rustc-arg" ]
rustdoc-args = [ "--example-rustdoc-arg" ]
dependencies = [ "example-system-dependency" ]
`

func TestExtract_FullManifest(t *testing.T) {
	meta := Extract(fullManifest)

	require.Equal(t, []string{"feature1", "feature2"}, meta.Features)
	require.True(t, meta.AllFeatures)
	require.True(t, meta.NoDefaultFeatures)
	require.Equal(t, "x86_64-unknown-linux-gnu", meta.DefaultTarget)
	require.Equal(t, []string{"--example-rustc-arg"}, meta.RustcArgs)
	require.Equal(t, []string{"--example-rustdoc-arg"}, meta.RustdocArgs)
	require.Equal(t, []string{"example-system-dependency"}, meta.Dependencies)
}

func TestExtract_NoSettingsTable(t *testing.T) {
	meta := Extract("[package]\nname = \"test\"\n")
	require.Equal(t, PackageMetadata{}, meta)
}

func TestExtract_UnparseableInput(t *testing.T) {
	for _, manifest := range []string{
		"not toml at all [[[",
		"= =",
		"[package\nname",
	} {
		require.Equal(t, PackageMetadata{}, Extract(manifest), "input %q", manifest)
	}
}

func TestExtract_EmptyInput(t *testing.T) {
	require.Equal(t, PackageMetadata{}, Extract(""))
}

func TestExtract_SettingsPathNotATable(t *testing.T) {
	cases := []string{
		"[package]\nmetadata = \"string\"\n",
		"[package.metadata]\ndocs = 42\n",
		"[package.metadata.docs]\nrs = [\"array\"]\n",
	}
	for _, manifest := range cases {
		require.Equal(t, PackageMetadata{}, Extract(manifest), "input %q", manifest)
	}
}

func TestExtract_ArrayWithNonStringElementDiscardedWhole(t *testing.T) {
	meta := Extract(`
[package.metadata.docs.rs]
features = [ "good", 42, "also-good" ]
`)
	require.Nil(t, meta.Features)
}

func TestExtract_MalformedFieldDoesNotAffectSiblings(t *testing.T) {
	meta := Extract(`
[package.metadata.docs.rs]
features = "not-an-array"
all-features = "not-a-bool"
default-target = "aarch64-unknown-linux-gnu"
rustdoc-args = [ "--cfg", "docsrs" ]
`)
	require.Nil(t, meta.Features)
	require.False(t, meta.AllFeatures)
	require.Equal(t, "aarch64-unknown-linux-gnu", meta.DefaultTarget)
	require.Equal(t, []string{"--cfg", "docsrs"}, meta.RustdocArgs)
}

func TestExtract_WrongTypeScalars(t *testing.T) {
	meta := Extract(`
[package.metadata.docs.rs]
default-target = 17
no-default-features = "yes"
`)
	require.Empty(t, meta.DefaultTarget)
	require.False(t, meta.NoDefaultFeatures)
}

func TestExtract_EmptyArrayIsPresentButEmpty(t *testing.T) {
	meta := Extract(`
[package.metadata.docs.rs]
features = []
`)
	// Empty and absent are distinct: an author writing features = [] asked
	// for no features, not for the defaults.
	require.NotNil(t, meta.Features)
	require.Len(t, meta.Features, 0)
	require.Nil(t, meta.RustcArgs)
}

func TestExtract_PreservesArrayOrder(t *testing.T) {
	meta := Extract(`
[package.metadata.docs.rs]
features = [ "z", "a", "m", "a" ]
`)
	require.Equal(t, []string{"z", "a", "m", "a"}, meta.Features)
}

func TestExtract_Idempotent(t *testing.T) {
	first := Extract(fullManifest)
	second := Extract(fullManifest)
	require.Equal(t, first, second)
}

func TestExtract_ZeroValueMatchesMissingSection(t *testing.T) {
	var zero PackageMetadata
	require.Equal(t, zero, Extract("[package]\nname = \"test\"\n"))
}
