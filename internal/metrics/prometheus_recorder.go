package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once              sync.Once
	stageDuration     *prom.HistogramVec
	buildDuration     prom.Histogram
	stageResults      *prom.CounterVec
	buildOutcome      *prom.CounterVec
	metadataResults   *prom.CounterVec
	indexSyncDuration *prom.HistogramVec
	queueDepth        prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "cratedocs",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual build stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "cratedocs",
			Name:      "build_duration_seconds",
			Help:      "Total documentation build duration",
			Buckets:   prom.DefBuckets,
		})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cratedocs",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cratedocs",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by final status",
		}, []string{"outcome"})
		pr.metadataResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cratedocs",
			Name:      "metadata_results_total",
			Help:      "Metadata extraction outcomes (customized vs default record)",
		}, []string{"outcome"})
		pr.indexSyncDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "cratedocs",
			Name:      "index_sync_duration_seconds",
			Help:      "Duration of registry index sync operations",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "cratedocs",
			Name:      "build_queue_depth",
			Help:      "Number of jobs currently waiting in the build queue",
		})
		reg.MustRegister(pr.stageDuration, pr.buildDuration, pr.stageResults, pr.buildOutcome, pr.metadataResults, pr.indexSyncDuration, pr.queueDepth)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncMetadataResult(outcome string) {
	if p == nil || p.metadataResults == nil {
		return
	}
	p.metadataResults.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveIndexSyncDuration(d time.Duration, success bool) {
	if p == nil || p.indexSyncDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.indexSyncDuration.WithLabelValues(res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}
