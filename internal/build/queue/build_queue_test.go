package queue

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cratedocs/internal/config"
	"git.home.luguber.info/inful/cratedocs/internal/crate"
	"git.home.luguber.info/inful/cratedocs/internal/errors"
	"git.home.luguber.info/inful/cratedocs/internal/retry"
)

type stubBuilder struct {
	calls   int32
	failN   int32 // fail the first N calls
	failErr error
}

func (b *stubBuilder) Build(_ context.Context, job *BuildJob) (*BuildReport, error) {
	n := atomic.AddInt32(&b.calls, 1)
	if n <= b.failN {
		return nil, b.failErr
	}
	return &BuildReport{Crate: crate.Canonical(job.Crate.Name), Version: job.Crate.Version, Target: config.DefaultTarget, DocFiles: 12}, nil
}

func waitForStatus(t *testing.T, bq *BuildQueue, id string, want BuildStatus) *BuildJob {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if job, ok := bq.JobSnapshot(id); ok && job.Status == want {
			return job
		}
		select {
		case <-deadline:
			job, _ := bq.JobSnapshot(id)
			t.Fatalf("job %s never reached %s (last: %+v)", id, want, job)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestQueueProcessesJob(t *testing.T) {
	builder := &stubBuilder{}
	bq := NewBuildQueue(10, 1, builder)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	bq.Start(ctx)
	defer bq.Stop(ctx)

	job := NewJob(crate.Crate{Name: "serde", Version: "1.0.0"}, BuildTypeManual, PriorityNormal)
	require.NoError(t, bq.Enqueue(job))

	done := waitForStatus(t, bq, job.ID, BuildStatusCompleted)
	require.NotNil(t, done.Report)
	require.Equal(t, "serde", done.Report.Crate)
	require.Equal(t, 12, done.Report.DocFiles)
	require.NotNil(t, done.CompletedAt)
}

func TestQueueRetriesTransientFailures(t *testing.T) {
	builder := &stubBuilder{
		failN:   2,
		failErr: errors.Retryable(errors.CategoryNetwork, errors.SeverityWarning, "registry timeout"),
	}
	bq := NewBuildQueue(10, 1, builder)
	bq.ConfigureRetry(retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 3))
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	bq.Start(ctx)
	defer bq.Stop(ctx)

	job := NewJob(crate.Crate{Name: "tokio", Version: "1.40.0"}, BuildTypeRegistry, PriorityHigh)
	require.NoError(t, bq.Enqueue(job))

	done := waitForStatus(t, bq, job.ID, BuildStatusCompleted)
	require.EqualValues(t, 3, atomic.LoadInt32(&builder.calls))
	require.Equal(t, 2, done.Report.Retries)
}

func TestQueueDoesNotRetryPermanentFailures(t *testing.T) {
	builder := &stubBuilder{
		failN:   100,
		failErr: stdErrors.New("rustdoc exited with status 101"),
	}
	bq := NewBuildQueue(10, 1, builder)
	bq.ConfigureRetry(retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 5))
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	bq.Start(ctx)
	defer bq.Stop(ctx)

	job := NewJob(crate.Crate{Name: "broken", Version: "0.1.0"}, BuildTypeManual, PriorityNormal)
	require.NoError(t, bq.Enqueue(job))

	done := waitForStatus(t, bq, job.ID, BuildStatusFailed)
	require.Contains(t, done.Error, "rustdoc exited")
	require.EqualValues(t, 1, atomic.LoadInt32(&builder.calls))
}

func TestQueueRejectsInvalidJobs(t *testing.T) {
	bq := NewBuildQueue(1, 1, &stubBuilder{})
	require.Error(t, bq.Enqueue(nil))
	require.Error(t, bq.Enqueue(&BuildJob{}))
}

func TestQueueFullRejectsEnqueue(t *testing.T) {
	bq := NewBuildQueue(1, 1, &stubBuilder{})
	// Queue not started: first job sits in the channel, second must be rejected.
	first := NewJob(crate.Crate{Name: "a"}, BuildTypeManual, PriorityNormal)
	second := NewJob(crate.Crate{Name: "b"}, BuildTypeManual, PriorityNormal)
	require.NoError(t, bq.Enqueue(first))
	require.Error(t, bq.Enqueue(second))
	require.Equal(t, 1, bq.Length())
}

type recordingEmitter struct {
	mu        sync.Mutex
	started   []string
	completed []string
	failed    []string
}

func (e *recordingEmitter) EmitBuildStarted(_ context.Context, job *BuildJob, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, job.ID)
	return nil
}

func (e *recordingEmitter) EmitBuildCompleted(_ context.Context, job *BuildJob, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.completed = append(e.completed, job.ID)
	return nil
}

func (e *recordingEmitter) EmitBuildFailed(_ context.Context, job *BuildJob, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, job.ID)
	return nil
}

func TestQueueEmitsLifecycleEvents(t *testing.T) {
	builder := &stubBuilder{}
	emitter := &recordingEmitter{}
	bq := NewBuildQueue(10, 1, builder)
	bq.SetEventEmitter(emitter)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	bq.Start(ctx)
	defer bq.Stop(ctx)

	job := NewJob(crate.Crate{Name: "serde"}, BuildTypeManual, PriorityNormal)
	require.NoError(t, bq.Enqueue(job))
	waitForStatus(t, bq, job.ID, BuildStatusCompleted)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	require.Equal(t, []string{job.ID}, emitter.started)
	require.Equal(t, []string{job.ID}, emitter.completed)
	require.Empty(t, emitter.failed)
}
