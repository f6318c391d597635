// Package crate defines the crate handle passed between the registry feed,
// the metadata extractor, and the build planner.
//
// Registry crate names are case-insensitive and treat '-' and '_' as
// equivalent; Canonical implements that folding so lookups against the index
// and the build queue agree on identity.
package crate

import (
	"path"
	"strings"
)

// Crate identifies a single crate version queued for a documentation build.
type Crate struct {
	Name    string `json:"name"`
	Version string `json:"version"`

	// Path to the crate's own Cargo.toml inside the unpacked source.
	Manifest string `json:"manifest_path"`
}

// ManifestPath returns the path of the crate's manifest file.
func (c Crate) ManifestPath() string { return c.Manifest }

// Canonical folds a crate name to its registry-canonical form: lowercase
// with underscores replaced by hyphens.
func Canonical(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}

// PathInIndex returns the sharded relative path of a crate's version file
// inside the registry index repository:
//
//	1-letter names:  1/<name>
//	2-letter names:  2/<name>
//	3-letter names:  3/<first-letter>/<name>
//	longer names:    <first-two>/<next-two>/<name>
//
// Names are canonicalized before sharding. Empty names return "".
func PathInIndex(name string) string {
	n := Canonical(name)
	switch len(n) {
	case 0:
		return ""
	case 1:
		return path.Join("1", n)
	case 2:
		return path.Join("2", n)
	case 3:
		return path.Join("3", n[:1], n)
	default:
		return path.Join(n[:2], n[2:4], n)
	}
}
