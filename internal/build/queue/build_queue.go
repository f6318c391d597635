// Package queue manages the queue of crate documentation build jobs and the
// worker pool that executes them.
package queue

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/cratedocs/internal/build"
	"git.home.luguber.info/inful/cratedocs/internal/crate"
	"git.home.luguber.info/inful/cratedocs/internal/errors"
	"git.home.luguber.info/inful/cratedocs/internal/logfields"
	"git.home.luguber.info/inful/cratedocs/internal/metrics"
	"git.home.luguber.info/inful/cratedocs/internal/retry"
)

// BuildType represents the type of build job.
type BuildType string

const (
	BuildTypeManual    BuildType = "manual"    // Manually triggered build
	BuildTypeRegistry  BuildType = "registry"  // New release discovered in the index
	BuildTypeScheduled BuildType = "scheduled" // Periodic rebuild
)

// BuildPriority represents the priority of a build job.
type BuildPriority int

const (
	PriorityLow    BuildPriority = 1
	PriorityNormal BuildPriority = 2
	PriorityHigh   BuildPriority = 3
)

// BuildStatus represents the current status of a build job.
type BuildStatus string

const (
	BuildStatusQueued    BuildStatus = "queued"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCancelled BuildStatus = "canceled"
)

// BuildReport summarizes a completed (or failed) documentation build.
type BuildReport struct {
	Crate    string `json:"crate"`
	Version  string `json:"version"`
	Target   string `json:"target"`
	DocFiles int    `json:"doc_files"`
	Warnings int    `json:"warnings"`
	Retries  int    `json:"retries,omitempty"`
}

// BuildJob represents a single build job in the queue.
type BuildJob struct {
	ID          string        `json:"id"`
	Crate       crate.Crate   `json:"crate"`
	Type        BuildType     `json:"type"`
	Priority    BuildPriority `json:"priority"`
	Status      BuildStatus   `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`

	// Resolved build plan (populated by the builder before execution).
	Plan *build.DocBuildPlan `json:"plan,omitempty"`

	// Report (populated after completion).
	Report *BuildReport `json:"report,omitempty"`

	// Internal processing
	cancel context.CancelFunc `json:"-"`
}

// NewJob constructs a queued job with a fresh UUID.
func NewJob(c crate.Crate, buildType BuildType, priority BuildPriority) *BuildJob {
	return &BuildJob{
		ID:        uuid.New().String(),
		Crate:     c,
		Type:      buildType,
		Priority:  priority,
		Status:    BuildStatusQueued,
		CreatedAt: time.Now(),
	}
}

// Builder executes a build job and returns a build report.
type Builder interface {
	Build(ctx context.Context, job *BuildJob) (*BuildReport, error)
}

// BuildEventEmitter abstracts event emission for build lifecycle events.
// This allows the BuildQueue to emit events without depending on a daemon implementation.
type BuildEventEmitter interface {
	EmitBuildStarted(ctx context.Context, job *BuildJob, workerID string) error
	EmitBuildCompleted(ctx context.Context, job *BuildJob, duration time.Duration) error
	EmitBuildFailed(ctx context.Context, job *BuildJob, errorMsg string) error
}

// BuildQueue manages the queue of build jobs.
type BuildQueue struct {
	jobs        chan *BuildJob
	workers     int
	maxSize     int
	mu          sync.RWMutex
	active      map[string]*BuildJob
	history     []*BuildJob
	historySize int
	stopChan    chan struct{}
	wg          sync.WaitGroup
	builder     Builder

	retryPolicy retry.Policy
	recorder    metrics.Recorder

	eventEmitter BuildEventEmitter
}

// NewBuildQueue creates a new build queue with the specified size, worker count, and builder.
func NewBuildQueue(maxSize, workers int, builder Builder) *BuildQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 2
	}
	if builder == nil {
		panic("NewBuildQueue: builder is required")
	}

	return &BuildQueue{
		jobs:        make(chan *BuildJob, maxSize),
		workers:     workers,
		maxSize:     maxSize,
		active:      make(map[string]*BuildJob),
		history:     make([]*BuildJob, 0),
		historySize: 50,
		stopChan:    make(chan struct{}),
		builder:     builder,
		retryPolicy: retry.DefaultPolicy(),
		recorder:    metrics.NoopRecorder{},
	}
}

// ConfigureRetry updates the retry policy (should be called once after config load).
func (bq *BuildQueue) ConfigureRetry(policy retry.Policy) {
	bq.retryPolicy = policy
}

// SetHistorySize overrides the completed-job history ring size.
func (bq *BuildQueue) SetHistorySize(n int) {
	if n > 0 {
		bq.historySize = n
	}
}

// SetRecorder injects a metrics recorder (optional).
func (bq *BuildQueue) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	bq.recorder = r
}

// SetEventEmitter injects a build event emitter.
func (bq *BuildQueue) SetEventEmitter(emitter BuildEventEmitter) {
	bq.eventEmitter = emitter
}

// Start begins processing jobs with the configured number of workers.
func (bq *BuildQueue) Start(ctx context.Context) {
	slog.Info("Starting build queue", "workers", bq.workers, "max_size", bq.maxSize)
	for i := range bq.workers {
		bq.wg.Add(1)
		go bq.worker(ctx, fmt.Sprintf("worker-%d", i))
	}
}

// Stop gracefully shuts down the build queue.
func (bq *BuildQueue) Stop(_ context.Context) {
	close(bq.stopChan)

	// Cancel all active jobs
	bq.mu.Lock()
	for _, job := range bq.active {
		if job.cancel != nil {
			job.cancel()
		}
	}
	bq.mu.Unlock()

	bq.wg.Wait()
}

// Length returns the current queue length.
func (bq *BuildQueue) Length() int {
	return len(bq.jobs)
}

// GetActiveJobs returns a copy of the currently active jobs.
func (bq *BuildQueue) GetActiveJobs() []*BuildJob {
	bq.mu.RLock()
	defer bq.mu.RUnlock()

	active := make([]*BuildJob, 0, len(bq.active))
	for _, job := range bq.active {
		active = append(active, job)
	}
	return active
}

// Enqueue adds a new build job to the queue.
func (bq *BuildQueue) Enqueue(job *BuildJob) error {
	if job == nil {
		return stdErrors.New("job cannot be nil")
	}
	if job.ID == "" {
		return stdErrors.New("job ID is required")
	}

	job.Status = BuildStatusQueued

	select {
	case bq.jobs <- job:
		bq.recorder.SetQueueDepth(len(bq.jobs))
		return nil
	default:
		return stdErrors.New("build queue is full")
	}
}

// JobSnapshot returns a copy of a job (active first, then history).
func (bq *BuildQueue) JobSnapshot(id string) (*BuildJob, bool) {
	bq.mu.RLock()
	defer bq.mu.RUnlock()

	if j, ok := bq.active[id]; ok {
		cp := *j
		return &cp, true
	}
	for _, j := range bq.history {
		if j.ID == id {
			cp := *j
			return &cp, true
		}
	}
	return nil, false
}

func (bq *BuildQueue) worker(ctx context.Context, workerID string) {
	defer bq.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-bq.stopChan:
			return
		case job := <-bq.jobs:
			if job != nil {
				bq.recorder.SetQueueDepth(len(bq.jobs))
				bq.processJob(ctx, job, workerID)
			}
		}
	}
}

func (bq *BuildQueue) processJob(ctx context.Context, job *BuildJob, workerID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	job.cancel = cancel
	defer cancel()

	startTime := time.Now()
	bq.mu.Lock()
	job.StartedAt = &startTime
	job.Status = BuildStatusRunning
	bq.active[job.ID] = job
	bq.mu.Unlock()

	slog.Info("Processing build job",
		logfields.JobID(job.ID),
		logfields.Crate(job.Crate.Name),
		logfields.Worker(workerID),
		logfields.JobType(string(job.Type)),
		logfields.JobPriority(int(job.Priority)))

	bq.emitBuildStartedEvent(jobCtx, job, workerID)

	err := bq.executeBuild(jobCtx, job)

	duration := bq.markJobCompleted(job, err)
	slog.Info("Build job finished",
		logfields.JobID(job.ID),
		logfields.JobStatus(string(job.Status)),
		logfields.DurationMS(float64(duration.Milliseconds())))
	bq.recorder.ObserveBuildDuration(duration)
	if err != nil {
		bq.recorder.IncBuildOutcome("failed")
	} else {
		bq.recorder.IncBuildOutcome("success")
	}
	bq.emitCompletionEvents(ctx, job, err, duration)
}

func (bq *BuildQueue) emitBuildStartedEvent(ctx context.Context, job *BuildJob, workerID string) {
	if bq.eventEmitter == nil {
		return
	}
	if err := bq.eventEmitter.EmitBuildStarted(ctx, job, workerID); err != nil {
		slog.Warn("Failed to emit BuildStarted event", logfields.JobID(job.ID), "err", err)
	}
}

func (bq *BuildQueue) markJobCompleted(job *BuildJob, err error) time.Duration {
	endTime := time.Now()
	bq.mu.Lock()
	job.CompletedAt = &endTime
	if job.StartedAt != nil {
		job.Duration = endTime.Sub(*job.StartedAt)
	}
	delete(bq.active, job.ID)
	bq.addToHistory(job)
	if err != nil {
		job.Status = BuildStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = BuildStatusCompleted
	}
	duration := job.Duration
	bq.mu.Unlock()

	return duration
}

func (bq *BuildQueue) emitCompletionEvents(ctx context.Context, job *BuildJob, err error, duration time.Duration) {
	if bq.eventEmitter == nil {
		return
	}

	if err != nil {
		if emitErr := bq.eventEmitter.EmitBuildFailed(ctx, job, err.Error()); emitErr != nil {
			slog.Warn("Failed to emit BuildFailed event", logfields.JobID(job.ID), "err", emitErr)
		}
		return
	}
	if emitErr := bq.eventEmitter.EmitBuildCompleted(ctx, job, duration); emitErr != nil {
		slog.Warn("Failed to emit BuildCompleted event", logfields.JobID(job.ID), "err", emitErr)
	}
}

func (bq *BuildQueue) addToHistory(job *BuildJob) {
	bq.history = append(bq.history, job)
	if len(bq.history) > bq.historySize {
		copy(bq.history, bq.history[len(bq.history)-bq.historySize:])
		bq.history = bq.history[:bq.historySize]
	}
}

func (bq *BuildQueue) executeBuild(ctx context.Context, job *BuildJob) error {
	policy := bq.retryPolicy
	if policy.Initial <= 0 {
		policy = retry.DefaultPolicy()
	}

	attempts := 0
	totalRetries := 0

	for {
		attempts++
		report, err := bq.builder.Build(ctx, job)
		if report != nil {
			job.Report = report
		}
		if err == nil {
			if report != nil && totalRetries > 0 {
				report.Retries = totalRetries
			}
			return nil
		}

		if !errors.IsRetryable(err) || totalRetries >= policy.MaxRetries {
			return err
		}

		totalRetries++
		delay := policy.Delay(totalRetries)
		slog.Warn("Transient build error, retrying",
			logfields.JobID(job.ID),
			logfields.Crate(job.Crate.Name),
			"attempt", attempts,
			"retry", totalRetries,
			"max_retries", policy.MaxRetries,
			"delay", delay,
			"err", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
