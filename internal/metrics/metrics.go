// Package metrics exposes pipeline outcomes as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/ontology"
)

const namespace = "ofnr"

// Metrics holds the Prometheus collectors for validation runs. It implements
// pipeline.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// Records by final state (Assembled, Rejected)
	Records *prometheus.CounterVec
	// Assembled records by safety label
	Labels *prometheus.CounterVec
	// Diagnostics by action
	Diagnostics *prometheus.CounterVec
	// Run latency histogram
	Duration prometheus.Histogram
	// Records currently being validated
	InFlight prometheus.Gauge
	// Ontology table sizes by table name
	Ontology *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Total number of validated records by final state",
		}, []string{"state"}),

		Labels: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_labels_total",
			Help:      "Total number of assembled records by safety label",
		}, []string{"label"}),

		Diagnostics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Total number of diagnostics by action",
		}, []string{"action"}),

		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Pipeline run latency in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records_in_flight",
			Help:      "Number of records currently being validated",
		}),

		Ontology: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ontology_entries",
			Help:      "Number of entries per loaded ontology table",
		}, []string{"table"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe records one finished pipeline run.
func (m *Metrics) Observe(state ofnr.State, label string, counts map[ofnr.Action]int, elapsed time.Duration) {
	m.Records.WithLabelValues(string(state)).Inc()
	if label != "" {
		m.Labels.WithLabelValues(label).Inc()
	}
	for action, n := range counts {
		if n > 0 {
			m.Diagnostics.WithLabelValues(string(action)).Add(float64(n))
		}
	}
	m.Duration.Observe(elapsed.Seconds())
}

// Track marks one record as in flight and returns the func that ends it.
func (m *Metrics) Track() func() {
	m.InFlight.Inc()
	return m.InFlight.Dec
}

// SetOntology publishes the table sizes of a loaded release.
func (m *Metrics) SetOntology(s ontology.Summary) {
	sizes := map[string]int{
		"needs":            s.Needs,
		"feelings":         s.Feelings,
		"pseudo_feelings":  s.PseudoFeelings,
		"somatic_markers":  s.SomaticMarkers,
		"judgment_markers": s.JudgmentMarkers,
		"plato_patterns":   s.PlatoPatterns,
		"anti_patterns":    s.AntiPatterns,
		"rewrite_rules":    s.RewriteRules,
	}
	for table, n := range sizes {
		m.Ontology.WithLabelValues(table).Set(float64(n))
	}
}
