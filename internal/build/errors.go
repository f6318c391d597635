package build

import "errors"

// Sentinel domain errors used to classify high-level pipeline failures for retry semantics.
// They should always be wrapped with contextual information at the call site.
var (
	ErrFetch   = errors.New("cratedocs: fetch error")
	ErrExtract = errors.New("cratedocs: metadata error")
	ErrRustdoc = errors.New("cratedocs: rustdoc error")
)
