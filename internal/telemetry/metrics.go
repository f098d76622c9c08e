// Package telemetry exposes Prometheus counters for the ingestion pipeline.
// All methods are safe on a nil *Metrics, which records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/finrecon/internal/model"
)

// Cache lookup results.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
)

// Snippet outcomes.
const (
	SnippetRendered = "rendered"
	SnippetReused   = "reused"
	SnippetFailed   = "failed"
)

// Metrics holds the pipeline's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Files          *prometheus.CounterVec
	CacheLookups   *prometheus.CounterVec
	OracleDuration *prometheus.HistogramVec
	OracleTokens   *prometheus.CounterVec
	Reconcile      *prometheus.CounterVec
	Snippets       *prometheus.CounterVec
	PhaseDuration  *prometheus.HistogramVec
}

// New registers the pipeline collectors plus Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrecon_files_total",
				Help: "Files ingested by outcome status",
			},
			[]string{"status"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrecon_extraction_cache_lookups_total",
				Help: "Extraction cache lookups by result",
			},
			[]string{"result"},
		),
		OracleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finrecon_oracle_duration_seconds",
				Help:    "Extraction oracle call latency",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"outcome"},
		),
		OracleTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrecon_oracle_tokens_total",
				Help: "Tokens consumed by the extraction oracle",
			},
			[]string{"kind"},
		),
		Reconcile: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrecon_reconcile_outcomes_total",
				Help: "Reconciliation outcomes per fact",
			},
			[]string{"outcome"},
		),
		Snippets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finrecon_snippets_total",
				Help: "Audit snippet renders by result",
			},
			[]string{"result"},
		),
		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finrecon_phase_duration_seconds",
				Help:    "Wall time of each ingestion phase",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
	}
	m.registry.MustRegister(
		m.Files, m.CacheLookups, m.OracleDuration, m.OracleTokens,
		m.Reconcile, m.Snippets, m.PhaseDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FileDone counts one finished file.
func (m *Metrics) FileDone(status model.FileStatus) {
	if m == nil {
		return
	}
	m.Files.WithLabelValues(string(status)).Inc()
}

// CacheLookup counts one cache lookup.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// OracleCall records one oracle round trip.
func (m *Metrics) OracleCall(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.OracleDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Tokens adds oracle token usage.
func (m *Metrics) Tokens(input, output int64) {
	if m == nil {
		return
	}
	m.OracleTokens.WithLabelValues("input").Add(float64(input))
	m.OracleTokens.WithLabelValues("output").Add(float64(output))
}

// Reconciled adds a reconciliation summary.
func (m *Metrics) Reconciled(s model.ReconcileSummary) {
	if m == nil {
		return
	}
	m.Reconcile.WithLabelValues("inserted").Add(float64(s.Inserted))
	m.Reconcile.WithLabelValues("updated").Add(float64(s.Updated))
	m.Reconcile.WithLabelValues("rejected").Add(float64(s.Rejected))
	m.Reconcile.WithLabelValues("confirmed").Add(float64(s.Confirmed))
	m.Reconcile.WithLabelValues("ignored").Add(float64(s.Ignored))
	m.Reconcile.WithLabelValues("conflict").Add(float64(s.Conflicts))
}

// Snippet counts one snippet outcome.
func (m *Metrics) Snippet(result string) {
	if m == nil {
		return
	}
	m.Snippets.WithLabelValues(result).Inc()
}

// Phase records how long an ingestion phase took.
func (m *Metrics) Phase(name string, since time.Time) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(name).Observe(time.Since(since).Seconds())
}
