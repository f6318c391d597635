package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_RegistersAndCounts(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveStageDuration("extract", 10*time.Millisecond)
	pr.ObserveBuildDuration(time.Second)
	pr.IncStageResult("doc", ResultSuccess)
	pr.IncStageResult("doc", ResultSuccess)
	pr.IncBuildOutcome("success")
	pr.IncMetadataResult("customized")
	pr.ObserveIndexSyncDuration(50*time.Millisecond, true)
	pr.SetQueueDepth(3)

	require.Equal(t, float64(2), testutil.ToFloat64(pr.stageResults.WithLabelValues("doc", "success")))
	require.Equal(t, float64(1), testutil.ToFloat64(pr.buildOutcome.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(pr.metadataResults.WithLabelValues("customized")))
	require.Equal(t, float64(3), testutil.ToFloat64(pr.queueDepth))
}

func TestPrometheusRecorder_NilSafe(t *testing.T) {
	var pr *PrometheusRecorder
	// All methods must be safe on a nil receiver for optional injection.
	pr.ObserveStageDuration("extract", time.Millisecond)
	pr.ObserveBuildDuration(time.Millisecond)
	pr.IncStageResult("doc", ResultFatal)
	pr.IncBuildOutcome("failed")
	pr.IncMetadataResult("default")
	pr.ObserveIndexSyncDuration(time.Millisecond, false)
	pr.SetQueueDepth(0)
}

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveBuildDuration(time.Second)
	r.IncBuildOutcome("success")
}
