package daemon

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsPeriodicTask(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)

	var runs atomic.Int32
	id, err := s.SchedulePeriodic("test-task", 10*time.Millisecond, func() {
		runs.Add(1)
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	s.Start(t.Context())
	defer func() { require.NoError(t, s.Stop(t.Context())) }()

	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerStopIsIdempotentAfterStart(t *testing.T) {
	s, err := NewScheduler()
	require.NoError(t, err)

	s.Start(t.Context())
	require.NoError(t, s.Stop(t.Context()))
}
