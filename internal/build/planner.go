package build

import (
	"strings"

	"git.home.luguber.info/inful/cratedocs/internal/crate"
	"git.home.luguber.info/inful/cratedocs/internal/metadata"
)

// DocBuildPlan is a fully resolved documentation build: everything the
// sandbox worker needs to invoke cargo for one crate version.
type DocBuildPlan struct {
	Crate   string `json:"crate"`
	Version string `json:"version"`

	// Target triple the documentation is built for.
	Target string `json:"target"`

	// Arguments to `cargo doc`, in order.
	CargoArgs []string `json:"cargo_args"`

	// Extra environment entries (KEY=VALUE) for the cargo process.
	Env []string `json:"env,omitempty"`

	// System packages to install in the sandbox before the build.
	SystemDeps []string `json:"system_deps,omitempty"`
}

// Plan resolves a crate's metadata into a documentation build plan.
// defaultTarget is the service-wide triple used when the crate does not
// override it; an empty crate override falls back the same way.
func Plan(c crate.Crate, meta metadata.PackageMetadata, defaultTarget string) DocBuildPlan {
	plan := DocBuildPlan{
		Crate:   crate.Canonical(c.Name),
		Version: c.Version,
		Target:  defaultTarget,
	}
	if meta.DefaultTarget != "" {
		plan.Target = meta.DefaultTarget
	}

	args := []string{"doc", "--no-deps"}
	if meta.AllFeatures {
		args = append(args, "--all-features")
	}
	if meta.NoDefaultFeatures {
		args = append(args, "--no-default-features")
	}
	// all-features subsumes an explicit feature list.
	if !meta.AllFeatures && len(meta.Features) > 0 {
		args = append(args, "--features", strings.Join(meta.Features, ","))
	}
	if plan.Target != "" {
		args = append(args, "--target", plan.Target)
	}
	plan.CargoArgs = args

	if len(meta.RustcArgs) > 0 {
		plan.Env = append(plan.Env, "RUSTFLAGS="+strings.Join(meta.RustcArgs, " "))
	}
	if len(meta.RustdocArgs) > 0 {
		plan.Env = append(plan.Env, "RUSTDOCFLAGS="+strings.Join(meta.RustdocArgs, " "))
	}

	if len(meta.Dependencies) > 0 {
		plan.SystemDeps = append([]string(nil), meta.Dependencies...)
	}

	return plan
}
