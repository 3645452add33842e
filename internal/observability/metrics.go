package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "locmap"

// Artifact outcomes recorded in ArtifactsTotal.
const (
	OutcomeWritten = "written"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics holds the counters and gauges for one pipeline run.
//
// Each Metrics owns its registry, so several runs in one process (or several
// tests) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	RecordsRead     prometheus.Counter
	RecordsExcluded prometheus.Counter

	RecordsFlagged *prometheus.CounterVec // labels: flag
	ArtifactsTotal *prometheus.CounterVec // labels: artifact, outcome
	StageDuration  *prometheus.GaugeVec   // labels: stage

	RunSuccess prometheus.Gauge
}

// NewMetrics creates the run metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RecordsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Records read from the source and normalized.",
		}),
		RecordsExcluded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_excluded_total",
			Help:      "Records left out of the reports by the day filter.",
		}),
		RecordsFlagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_flagged_total",
			Help:      "Records carrying each quality flag.",
		}, []string{"flag"}),
		ArtifactsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_total",
			Help:      "Report artifacts by name and outcome.",
		}, []string{"artifact", "outcome"}),
		StageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each pipeline stage.",
		}, []string{"stage"}),
		RunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "1 when the last run produced every artifact, 0 otherwise.",
		}),
	}

	m.registry.MustRegister(
		m.RecordsRead,
		m.RecordsExcluded,
		m.RecordsFlagged,
		m.ArtifactsTotal,
		m.StageDuration,
		m.RunSuccess,
	)
	return m
}

// Registry returns the registry holding these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// ObserveArtifact counts one artifact outcome.
func (m *Metrics) ObserveArtifact(artifact, outcome string) {
	m.ArtifactsTotal.WithLabelValues(artifact, outcome).Inc()
}

// WriteTextfile writes every metric to path in the text exposition format
// read by node_exporter's textfile collector. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
