package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/cratedocs/internal/build/queue"
	"git.home.luguber.info/inful/cratedocs/internal/config"
	"git.home.luguber.info/inful/cratedocs/internal/crate"
	"git.home.luguber.info/inful/cratedocs/internal/daemon"
	"git.home.luguber.info/inful/cratedocs/internal/index"
	"git.home.luguber.info/inful/cratedocs/internal/metadata"
	"git.home.luguber.info/inful/cratedocs/internal/retry"
	"git.home.luguber.info/inful/cratedocs/internal/version"
	"git.home.luguber.info/inful/cratedocs/internal/workspace"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Metadata struct {
		Path string `arg:"" help:"Path to an unpacked crate source directory"`
	} `cmd:"" help:"Print the crate's documentation build settings as JSON"`

	Build struct {
		Crate   string `arg:"" help:"Crate name"`
		Version string `arg:"" optional:"" help:"Crate version (defaults to newest in the index)"`
	} `cmd:"" help:"Build documentation for a single crate"`

	Sync struct{} `cmd:"" help:"Clone or update the registry index mirror once"`

	Daemon struct{} `cmd:"" help:"Start the daemon for continuous documentation builds"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	// Set up logging
	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	switch ctx.Command() {
	case "metadata <path>":
		if err := runMetadata(CLI.Metadata.Path); err != nil {
			slog.Error("Metadata extraction failed", "error", err)
			os.Exit(1)
		}
	case "build <crate>", "build <crate> <version>":
		cfg := loadConfig()
		if err := runBuild(cfg, CLI.Build.Crate, CLI.Build.Version); err != nil {
			slog.Error("Build failed", "error", err)
			os.Exit(1)
		}
	case "sync":
		cfg := loadConfig()
		if err := runSync(cfg); err != nil {
			slog.Error("Index sync failed", "error", err)
			os.Exit(1)
		}
	case "daemon":
		cfg := loadConfig()
		if err := runDaemon(cfg); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("cratedocs %s (built %s, commit %s)\n", version.Version, version.BuildTime, version.GitCommit)
	}
}

// loadConfig reads the configured file, falling back to defaults when the
// file does not exist.
func loadConfig() *config.Config {
	if _, err := os.Stat(CLI.Config); os.IsNotExist(err) {
		slog.Debug("No configuration file, using defaults", "path", CLI.Config)
		return config.Default()
	}
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Warn("Failed to load configuration, using defaults", "path", CLI.Config, "error", err)
		return config.Default()
	}
	return cfg
}

func runMetadata(path string) error {
	c := crate.Crate{Manifest: filepath.Join(path, "Cargo.toml")}

	meta, err := metadata.FromPackage(c)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(meta)
}

func runBuild(cfg *config.Config, name, ver string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Resolve the version against the local index mirror if not given.
	if ver == "" {
		mirror := index.NewMirror(cfg.Index)
		release, err := mirror.LatestVersion(name)
		if err != nil {
			return fmt.Errorf("failed to resolve version for %s (run sync first?): %w", name, err)
		}
		ver = release.Version
	}

	slog.Info("Building crate documentation", "crate", name, "version", ver)

	wsManager := workspace.NewManager(cfg.Build.WorkspaceDir)
	if err := wsManager.Create(); err != nil {
		return err
	}
	defer func() {
		if err := wsManager.Cleanup(); err != nil {
			slog.Warn("Failed to cleanup workspace", "error", err)
		}
	}()

	builder := daemon.NewDocBuilder(cfg, wsManager)
	job := queue.NewJob(crate.Crate{Name: crate.Canonical(name), Version: ver}, queue.BuildTypeManual, queue.PriorityHigh)

	report, err := builder.Build(ctx, job)
	if err != nil {
		return err
	}

	slog.Info("Build completed",
		"crate", report.Crate,
		"version", report.Version,
		"target", report.Target,
		"doc_files", report.DocFiles,
		"warnings", report.Warnings)

	if job.Plan != nil {
		slog.Debug("Build plan", "cargo_args", job.Plan.CargoArgs, "env", job.Plan.Env)
	}
	return nil
}

func runSync(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mirror := index.NewMirror(cfg.Index)
	mirror.ConfigureRetry(retry.FromConfig(cfg.Retry))

	slog.Info("Syncing registry index", "url", cfg.Index.URL, "dir", cfg.Index.Dir)
	changed, err := mirror.Sync(ctx)
	if err != nil {
		return err
	}
	slog.Info("Registry index up to date", "dir", mirror.Dir(), "changed_crates", len(changed))
	return nil
}

func runDaemon(cfg *config.Config) error {
	slog.Info("Starting daemon mode")

	// Create main context for the daemon
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Create and start the daemon with config file watching
	d, err := daemon.NewDaemonWithConfigFile(cfg, CLI.Config)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	// Start daemon in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Start(ctx)
	}()

	slog.Info("Daemon started, waiting for shutdown signal...")

	// Wait for either error or shutdown signal
	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("daemon error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping daemon...")
	}

	// Stop daemon gracefully
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	slog.Info("Daemon stopped successfully")
	return nil
}
