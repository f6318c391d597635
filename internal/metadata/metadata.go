// Package metadata resolves per-crate build customization from the
// [package.metadata.docs.rs] table of a crate's Cargo.toml.
//
// Crate authors can tune how their documentation is built:
//
//	[package.metadata.docs.rs]
//	features = ["feature1", "feature2"]
//	all-features = true
//	no-default-features = true
//	default-target = "x86_64-unknown-linux-gnu"
//	rustc-args = ["--example-rustc-arg"]
//	rustdoc-args = ["--example-rustdoc-arg"]
//	dependencies = ["example-system-dependency"]
//
// Every field is optional. Extraction is total: malformed user configuration
// never fails a build, it degrades per field to the documented default.
package metadata

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// Sentinel errors returned by Locate. Wrapped with crate context at the call site.
var (
	ErrSourcePathUnavailable = errors.New("cratedocs: source path not available")
	ErrManifestNotFound      = errors.New("cratedocs: manifest not found")
)

// manifestCandidates are probed in priority order. The .orig variant is the
// manifest as the author packaged it, before registry normalization; it is
// preferred so that the settings table is read exactly as written.
var manifestCandidates = []string{"Cargo.toml.orig", "Cargo.toml"}

// Package is the handle supplied by the build queue for a crate whose
// manifest should be located.
type Package interface {
	ManifestPath() string
}

// PackageMetadata carries the per-crate build customizations. The zero value
// is the all-default record: nil slices, empty target, both flags false.
type PackageMetadata struct {
	// Features to enable; only default features are built when nil.
	Features []string `json:"features,omitempty"`

	// Build with every feature enabled.
	AllFeatures bool `json:"all_features"`

	// Disable default features (combine with Features to build an exact set).
	NoDefaultFeatures bool `json:"no_default_features"`

	// Target triple to document instead of the service default.
	DefaultTarget string `json:"default_target,omitempty"`

	// Extra command line arguments for rustc.
	RustcArgs []string `json:"rustc_args,omitempty"`

	// Extra command line arguments for rustdoc.
	RustdocArgs []string `json:"rustdoc_args,omitempty"`

	// System packages to install in the build sandbox before building.
	Dependencies []string `json:"dependencies,omitempty"`
}

// Locate finds the manifest file for pkg: the first of Cargo.toml.orig and
// Cargo.toml that exists next to the crate's own manifest. It returns
// ErrSourcePathUnavailable when the manifest path has no parent directory
// and ErrManifestNotFound when no candidate exists.
func Locate(pkg Package) (string, error) {
	manifest := pkg.ManifestPath()
	if manifest == "" {
		return "", ErrSourcePathUnavailable
	}
	srcPath := filepath.Dir(manifest)
	if srcPath == manifest {
		// Dir is a fixpoint only for roots, which have no parent.
		return "", ErrSourcePathUnavailable
	}
	for _, candidate := range manifestCandidates {
		manifestPath := filepath.Join(srcPath, candidate)
		if fileExists(manifestPath) {
			return manifestPath, nil
		}
	}
	return "", ErrManifestNotFound
}

// FromPackage locates pkg's manifest and extracts its metadata.
func FromPackage(pkg Package) (PackageMetadata, error) {
	manifestPath, err := Locate(pkg)
	if err != nil {
		return PackageMetadata{}, err
	}
	return FromManifest(manifestPath)
}

// FromManifest reads the manifest file at path and extracts its metadata.
func FromManifest(path string) (PackageMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PackageMetadata{}, fmt.Errorf("read manifest: %w", err)
	}
	return Extract(string(data)), nil
}

// Extract parses manifest text and reads the [package.metadata.docs.rs]
// table into a PackageMetadata. It is total over all inputs: parse failures,
// a missing or misshapen settings table, and wrongly typed fields all
// resolve to defaults rather than an error. Fields degrade independently, so
// one malformed field never discards its well-formed siblings.
func Extract(manifest string) PackageMetadata {
	var meta PackageMetadata

	var root map[string]any
	if err := toml.Unmarshal([]byte(manifest), &root); err != nil {
		return meta
	}

	table, ok := descend(root, "package", "metadata", "docs", "rs")
	if !ok {
		return meta
	}

	meta.Features = stringSlice(table["features"])
	meta.NoDefaultFeatures = boolOr(table["no-default-features"], meta.NoDefaultFeatures)
	meta.AllFeatures = boolOr(table["all-features"], meta.AllFeatures)
	meta.DefaultTarget = stringOr(table["default-target"], meta.DefaultTarget)
	meta.RustcArgs = stringSlice(table["rustc-args"])
	meta.RustdocArgs = stringSlice(table["rustdoc-args"])
	meta.Dependencies = stringSlice(table["dependencies"])

	return meta
}

// descend walks nested tables key by key, short-circuiting to !ok as soon as
// a key is missing or its value is not a table.
func descend(root map[string]any, keys ...string) (map[string]any, bool) {
	current := root
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// stringSlice accepts only an array whose elements are all strings; any
// other shape (including a single bad element) discards the whole value.
// An empty array yields an empty non-nil slice, distinct from absent.
func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, elem := range arr {
		s, ok := elem.(string)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	return out
}

func boolOr(v any, fallback bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
