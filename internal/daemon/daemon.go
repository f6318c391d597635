package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/cratedocs/internal/build/queue"
	"git.home.luguber.info/inful/cratedocs/internal/config"
	"git.home.luguber.info/inful/cratedocs/internal/crate"
	"git.home.luguber.info/inful/cratedocs/internal/events"
	"git.home.luguber.info/inful/cratedocs/internal/eventstore"
	"git.home.luguber.info/inful/cratedocs/internal/index"
	"git.home.luguber.info/inful/cratedocs/internal/logfields"
	"git.home.luguber.info/inful/cratedocs/internal/metrics"
	"git.home.luguber.info/inful/cratedocs/internal/retry"
	"git.home.luguber.info/inful/cratedocs/internal/workspace"
)

// Status represents the current state of the daemon
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// Daemon represents the main daemon service
type Daemon struct {
	config         *config.Config
	configFilePath string
	status         atomic.Value // Status
	startTime      time.Time
	stopChan       chan struct{}
	mu             sync.RWMutex

	// Core components
	mirror        *index.Mirror
	workspace     *workspace.Manager
	builder       *DocBuilder
	buildQueue    *queue.BuildQueue
	scheduler     *Scheduler
	configWatcher *ConfigWatcher
	eventStore    eventstore.Store
	publisher     *events.Publisher
	recorder      metrics.Recorder
	metricsServer *http.Server
}

// NewDaemon creates a new daemon instance
func NewDaemon(cfg *config.Config) (*Daemon, error) {
	return NewDaemonWithConfigFile(cfg, "")
}

// NewDaemonWithConfigFile creates a new daemon instance with config file watching
func NewDaemonWithConfigFile(cfg *config.Config, configFilePath string) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	daemon := &Daemon{
		config:         cfg,
		configFilePath: configFilePath,
		stopChan:       make(chan struct{}),
		recorder:       metrics.NoopRecorder{},
	}
	daemon.status.Store(StatusStopped)

	// Metrics recorder and endpoint
	if cfg.Metrics.Enabled {
		reg := prom.NewRegistry()
		daemon.recorder = metrics.NewPrometheusRecorder(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HTTPHandler(reg))
		daemon.metricsServer = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	policy := retry.FromConfig(cfg.Retry)

	// Registry index mirror
	daemon.mirror = index.NewMirror(cfg.Index)
	daemon.mirror.ConfigureRetry(policy)
	daemon.mirror.SetRecorder(daemon.recorder)

	// Build workspace
	if cfg.Build.PersistentWorkspace {
		daemon.workspace = workspace.NewPersistentManager(cfg.Build.WorkspaceDir, "builds")
	} else {
		daemon.workspace = workspace.NewManager(cfg.Build.WorkspaceDir)
	}

	// Event store
	eventStore, err := eventstore.NewSQLiteStore(cfg.EventStore.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event store: %w", err)
	}
	daemon.eventStore = eventStore

	// Builder and queue
	daemon.builder = NewDocBuilder(cfg, daemon.workspace)
	daemon.builder.SetEventStore(eventStore)
	daemon.builder.SetRecorder(daemon.recorder)

	daemon.buildQueue = queue.NewBuildQueue(cfg.Build.QueueSize, cfg.Build.Workers, daemon.builder)
	daemon.buildQueue.ConfigureRetry(policy)
	daemon.buildQueue.SetHistorySize(cfg.Build.HistorySize)
	daemon.buildQueue.SetRecorder(daemon.recorder)

	// Lifecycle event publisher (optional)
	if cfg.Events.Enabled {
		publisher, err := events.NewPublisher(cfg.Events)
		if err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		daemon.publisher = publisher
		daemon.buildQueue.SetEventEmitter(publisher)
	}

	// Scheduler for periodic index sync
	daemon.scheduler, err = NewScheduler()
	if err != nil {
		return nil, err
	}

	// Config watcher if a config file path is provided
	if configFilePath != "" {
		daemon.configWatcher, err = NewConfigWatcher(configFilePath, daemon)
		if err != nil {
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
	}

	return daemon, nil
}

// Start starts the daemon and all its components. It blocks until the
// context is canceled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.GetStatus() != StatusStopped {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not in stopped state: %s", d.GetStatus())
	}

	d.status.Store(StatusStarting)
	d.startTime = time.Now()
	slog.Info("Starting cratedocs daemon")

	if err := d.workspace.Create(); err != nil {
		d.status.Store(StatusError)
		d.mu.Unlock()
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	if d.metricsServer != nil {
		go func() {
			slog.Info("Metrics endpoint listening", "addr", d.metricsServer.Addr)
			if err := d.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server error", logfields.Error(err))
			}
		}()
	}

	d.buildQueue.Start(ctx)

	if _, err := d.scheduler.SchedulePeriodic("index-sync", d.config.Index.SyncInterval, func() {
		d.syncIndex(ctx)
	}); err != nil {
		d.status.Store(StatusError)
		d.mu.Unlock()
		return err
	}
	d.scheduler.Start(ctx)

	if d.configWatcher != nil {
		if err := d.configWatcher.Start(ctx); err != nil {
			slog.Error("Failed to start config watcher", logfields.Error(err))
		} else {
			slog.Info("Config watcher started")
		}
	}

	d.status.Store(StatusRunning)
	slog.Info("Cratedocs daemon started successfully",
		slog.String("index_url", d.config.Index.URL),
		slog.Int("workers", d.config.Build.Workers),
		slog.Duration("sync_interval", d.config.Index.SyncInterval))

	// Release lock before entering long-running loop so status queries don't block
	d.mu.Unlock()

	d.mainLoop(ctx)

	d.status.Store(StatusStopping)
	slog.Info("Main loop exited, daemon stopping")

	return nil
}

// mainLoop runs until stopped. The initial index sync happens shortly after
// startup so the first scheduled tick is not the first sync.
func (d *Daemon) mainLoop(ctx context.Context) {
	initialSyncTimer := time.NewTimer(3 * time.Second)
	defer initialSyncTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Main loop stopped by context cancellation")
			return
		case <-d.stopChan:
			slog.Info("Main loop stopped by stop signal")
			return
		case <-initialSyncTimer.C:
			go d.syncIndex(ctx)
		}
	}
}

// syncIndex pulls the registry index, journals the outcome, and queues a
// build for every crate whose index file changed.
func (d *Daemon) syncIndex(ctx context.Context) {
	if d.GetStatus() != StatusRunning && d.GetStatus() != StatusStarting {
		return
	}

	changed, err := d.mirror.Sync(ctx)
	if err != nil {
		slog.Error("Index sync failed", logfields.Error(err))
		return
	}

	if err := d.eventStore.Append(ctx, "", "", eventstore.TypeIndexSynced, nil, map[string]string{
		"changed_crates": strconv.Itoa(len(changed)),
	}); err != nil {
		slog.Warn("Failed to journal index sync", logfields.Error(err))
	}

	for _, name := range changed {
		if _, err := d.EnqueueBuild(name, "", queue.BuildTypeRegistry, queue.PriorityNormal); err != nil {
			slog.Warn("Failed to queue build for updated crate",
				logfields.Crate(name),
				logfields.Error(err))
		}
	}
}

// Stop gracefully shuts down the daemon
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	currentStatus := d.GetStatus()
	if currentStatus == StatusStopped || currentStatus == StatusStopping {
		return nil
	}

	d.status.Store(StatusStopping)
	slog.Info("Stopping cratedocs daemon")

	select {
	case <-d.stopChan:
		// Channel already closed
	default:
		close(d.stopChan)
	}

	// Stop components in reverse order
	if d.configWatcher != nil {
		if err := d.configWatcher.Stop(ctx); err != nil {
			slog.Error("Failed to stop config watcher", logfields.Error(err))
		}
	}

	if d.scheduler != nil {
		if err := d.scheduler.Stop(ctx); err != nil {
			slog.Error("Failed to stop scheduler", logfields.Error(err))
		}
	}

	if d.buildQueue != nil {
		d.buildQueue.Stop(ctx)
	}

	if d.metricsServer != nil {
		if err := d.metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Failed to stop metrics server", logfields.Error(err))
		}
	}

	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			slog.Error("Failed to close event publisher", logfields.Error(err))
		}
	}

	if !d.config.Build.PersistentWorkspace {
		if err := d.workspace.Cleanup(); err != nil {
			slog.Warn("Failed to clean workspace", logfields.Error(err))
		}
	}

	if d.eventStore != nil {
		if err := d.eventStore.Close(); err != nil {
			slog.Error("Failed to close event store", logfields.Error(err))
		}
	}

	d.status.Store(StatusStopped)

	uptime := time.Since(d.startTime)
	slog.Info("Cratedocs daemon stopped", slog.Duration("uptime", uptime))

	return nil
}

// GetStatus returns the current daemon status
func (d *Daemon) GetStatus() Status {
	status, ok := d.status.Load().(Status)
	if !ok {
		return StatusError
	}
	return status
}

// GetConfig returns the current daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// QueueLength returns the number of queued builds.
func (d *Daemon) QueueLength() int {
	return d.buildQueue.Length()
}

// EnqueueBuild resolves a crate against the index mirror and queues a
// documentation build for it. An empty version selects the newest release.
func (d *Daemon) EnqueueBuild(name, version string, buildType queue.BuildType, priority queue.BuildPriority) (*queue.BuildJob, error) {
	if version == "" {
		release, err := d.mirror.LatestVersion(name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve version for %s: %w", name, err)
		}
		version = release.Version
	}

	job := queue.NewJob(crate.Crate{Name: crate.Canonical(name), Version: version}, buildType, priority)
	if err := d.buildQueue.Enqueue(job); err != nil {
		return nil, err
	}

	if err := d.eventStore.Append(context.Background(), job.ID, job.Crate.Name, eventstore.TypeBuildQueued, nil, nil); err != nil {
		slog.Warn("Failed to journal queued build", logfields.JobID(job.ID), logfields.Error(err))
	}

	slog.Info("Build queued",
		logfields.JobID(job.ID),
		logfields.Crate(job.Crate.Name),
		logfields.Version(job.Crate.Version),
		logfields.JobType(string(buildType)))

	return job, nil
}

// ReloadConfig applies a new configuration to the running daemon. Structural
// settings (storage paths, worker count, listen addresses) are validated by
// the config watcher before this is called.
func (d *Daemon) ReloadConfig(ctx context.Context, newConfig *config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	policy := retry.FromConfig(newConfig.Retry)
	d.buildQueue.ConfigureRetry(policy)
	d.mirror.ConfigureRetry(policy)
	d.buildQueue.SetHistorySize(newConfig.Build.HistorySize)

	if newConfig.Index.SyncInterval != d.config.Index.SyncInterval {
		slog.Warn("Index sync interval change takes effect after restart",
			slog.Duration("current", d.config.Index.SyncInterval),
			slog.Duration("new", newConfig.Index.SyncInterval))
	}

	d.config = newConfig
	d.builder.cfg = newConfig
	return nil
}
