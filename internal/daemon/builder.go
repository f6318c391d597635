package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"git.home.luguber.info/inful/cratedocs/internal/build"
	"git.home.luguber.info/inful/cratedocs/internal/build/queue"
	"git.home.luguber.info/inful/cratedocs/internal/config"
	cderrors "git.home.luguber.info/inful/cratedocs/internal/errors"
	"git.home.luguber.info/inful/cratedocs/internal/eventstore"
	"git.home.luguber.info/inful/cratedocs/internal/logfields"
	"git.home.luguber.info/inful/cratedocs/internal/metadata"
	"git.home.luguber.info/inful/cratedocs/internal/metrics"
	"git.home.luguber.info/inful/cratedocs/internal/readme"
	"git.home.luguber.info/inful/cratedocs/internal/workspace"
)

// SourceFetcher stages a crate's source tree into dir before the build.
// Implementations may download from the registry, unpack a local archive, or
// verify a pre-staged checkout.
type SourceFetcher interface {
	Fetch(ctx context.Context, crateName, version, dir string) error
}

// CommandRunner executes the cargo invocation described by a build plan with
// dir as the working directory. It returns the number of warnings emitted.
type CommandRunner interface {
	Run(ctx context.Context, dir string, plan build.DocBuildPlan) (int, error)
}

// Build stages, in execution order. Stage metrics and logs use these names.
const (
	stageFetch   = "fetch"
	stageExtract = "extract"
	stageRustdoc = "rustdoc"
)

// DocBuilder is the default queue.Builder. It stages a crate workspace,
// extracts the crate's documentation settings, plans the cargo invocation,
// runs it, and renders the README into the generated doc tree.
type DocBuilder struct {
	cfg       *config.Config
	workspace *workspace.Manager
	fetcher   SourceFetcher
	runner    CommandRunner
	store     eventstore.Store
	recorder  metrics.Recorder
}

// NewDocBuilder returns a builder using the given workspace manager.
func NewDocBuilder(cfg *config.Config, ws *workspace.Manager) *DocBuilder {
	return &DocBuilder{
		cfg:       cfg,
		workspace: ws,
		runner:    &cargoRunner{},
		recorder:  metrics.NoopRecorder{},
	}
}

// observeStage records one pipeline stage's duration and result.
func (b *DocBuilder) observeStage(stage string, start time.Time, result metrics.ResultLabel) {
	elapsed := time.Since(start)
	b.recorder.ObserveStageDuration(stage, elapsed)
	b.recorder.IncStageResult(stage, result)
	slog.Debug("Build stage finished",
		logfields.Stage(stage),
		logfields.DurationMS(float64(elapsed.Milliseconds())),
		slog.String("result", string(result)))
}

// SetFetcher injects the source staging strategy. Without a fetcher, the
// builder expects the crate source to already be present in the workspace.
func (b *DocBuilder) SetFetcher(f SourceFetcher) { b.fetcher = f }

// SetRunner replaces the cargo process runner.
func (b *DocBuilder) SetRunner(r CommandRunner) {
	if r != nil {
		b.runner = r
	}
}

// SetEventStore enables journaling of extraction events.
func (b *DocBuilder) SetEventStore(s eventstore.Store) { b.store = s }

// SetRecorder enables metrics emission.
func (b *DocBuilder) SetRecorder(r metrics.Recorder) {
	if r != nil {
		b.recorder = r
	}
}

// Build implements queue.Builder.
func (b *DocBuilder) Build(ctx context.Context, job *queue.BuildJob) (*queue.BuildReport, error) {
	if job == nil {
		return nil, fmt.Errorf("nil job passed to builder")
	}

	c := job.Crate
	dir, err := b.workspace.CrateDir(c.Name, c.Version)
	if err != nil {
		return nil, cderrors.Wrap(err, cderrors.CategoryFileSystem, cderrors.SeverityError, "failed to prepare crate workspace")
	}

	if b.fetcher != nil {
		fetchStart := time.Now()
		if err := b.fetcher.Fetch(ctx, c.Name, c.Version, dir); err != nil {
			b.observeStage(stageFetch, fetchStart, metrics.ResultFatal)
			return nil, cderrors.WrapRetryable(fmt.Errorf("%w: %w", build.ErrFetch, err),
				cderrors.CategoryRegistry, cderrors.SeverityError, "failed to fetch crate source")
		}
		b.observeStage(stageFetch, fetchStart, metrics.ResultSuccess)
	}

	if c.Manifest == "" {
		c.Manifest = filepath.Join(dir, "Cargo.toml")
	}

	extractStart := time.Now()
	meta, err := metadata.FromPackage(c)
	if err != nil {
		b.observeStage(stageExtract, extractStart, metrics.ResultFatal)
		return nil, cderrors.Wrap(fmt.Errorf("%w: %w", build.ErrExtract, err),
			cderrors.CategoryBuild, cderrors.SeverityError, "failed to read crate metadata")
	}
	b.observeStage(stageExtract, extractStart, metrics.ResultSuccess)
	b.recordExtraction(ctx, job, meta)

	defaultTarget := b.cfg.Service.DefaultTarget
	if defaultTarget == "" {
		defaultTarget = config.DefaultTarget
	}
	plan := build.Plan(c, meta, defaultTarget)
	job.Plan = &plan

	slog.Info("Executing documentation build",
		logfields.JobID(job.ID),
		logfields.Crate(plan.Crate),
		logfields.Version(plan.Version),
		logfields.Target(plan.Target))

	runStart := time.Now()
	warnings, err := b.runner.Run(ctx, dir, plan)
	if err != nil {
		if ctx.Err() != nil {
			b.observeStage(stageRustdoc, runStart, metrics.ResultCanceled)
			return nil, cderrors.Wrap(ctx.Err(), cderrors.CategoryRuntime, cderrors.SeverityError, "build canceled")
		}
		b.observeStage(stageRustdoc, runStart, metrics.ResultFatal)
		return nil, cderrors.Wrap(fmt.Errorf("%w: %w", build.ErrRustdoc, err),
			cderrors.CategoryRustdoc, cderrors.SeverityError, "cargo doc failed")
	}
	if warnings > 0 {
		b.observeStage(stageRustdoc, runStart, metrics.ResultWarning)
	} else {
		b.observeStage(stageRustdoc, runStart, metrics.ResultSuccess)
	}

	docDir := filepath.Join(dir, "target", plan.Target, "doc")
	docFiles := countFiles(docDir)

	if err := b.renderReadme(dir, docDir); err != nil {
		slog.Warn("Failed to render crate README", logfields.Crate(plan.Crate), logfields.Error(err))
	}

	return &queue.BuildReport{
		Crate:    plan.Crate,
		Version:  plan.Version,
		Target:   plan.Target,
		DocFiles: docFiles,
		Warnings: warnings,
	}, nil
}

// recordExtraction journals the extracted settings and counts whether the
// crate customized its documentation build.
func (b *DocBuilder) recordExtraction(ctx context.Context, job *queue.BuildJob, meta metadata.PackageMetadata) {
	outcome := "customized"
	if reflect.DeepEqual(meta, metadata.PackageMetadata{}) {
		outcome = "default"
	}
	b.recorder.IncMetadataResult(outcome)

	if b.store == nil {
		return
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		slog.Warn("Failed to marshal extracted metadata", logfields.JobID(job.ID), logfields.Error(err))
		return
	}
	if err := b.store.Append(ctx, job.ID, job.Crate.Name, eventstore.TypeMetadataExtracted, payload, map[string]string{
		"outcome": outcome,
	}); err != nil {
		slog.Warn("Failed to journal extraction event", logfields.JobID(job.ID), logfields.Error(err))
	}
}

// renderReadme writes a sanitized HTML rendering of the crate README next to
// the generated docs. A missing README is not an error.
func (b *DocBuilder) renderReadme(crateDir, docDir string) error {
	source, err := os.ReadFile(filepath.Join(crateDir, "README.md"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	rendered, err := readme.Render(source)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(docDir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(docDir, "README.html"), []byte(rendered), 0o644)
}

func countFiles(dir string) int {
	count := 0
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	return count
}

// cargoRunner executes the real cargo process.
type cargoRunner struct{}

func (cargoRunner) Run(ctx context.Context, dir string, plan build.DocBuildPlan) (int, error) {
	cmd := exec.CommandContext(ctx, "cargo", plan.CargoArgs...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), plan.Env...)

	output, err := cmd.CombinedOutput()
	warnings := strings.Count(string(output), "warning:")
	if err != nil {
		return warnings, fmt.Errorf("cargo %s: %w", strings.Join(plan.CargoArgs, " "), err)
	}
	return warnings, nil
}
