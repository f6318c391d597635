// Package build turns a crate's extracted metadata into a concrete
// documentation build plan: the cargo invocation, the environment for rustc
// and rustdoc, the target triple, and the system packages the sandbox must
// provide.
//
// The planner is pure; executing the plan (invoking cargo in a sandbox) is
// the responsibility of the queue worker wiring.
package build
