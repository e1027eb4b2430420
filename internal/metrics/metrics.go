// Package metrics exposes Prometheus collectors for parsing, graph commits
// and analysis. Each Collector owns its registry so engines in one process
// (and parallel tests) never share counters.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ckg"

// Collector groups every metric of one engine instance.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	filesTotal      *prometheus.CounterVec
	parseDuration   prometheus.Histogram
	batchesTotal    *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
	batchRetries    *prometheus.CounterVec
	graphWrites     *prometheus.CounterVec
	analysesTotal   *prometheus.CounterVec
	analysisSeconds *prometheus.HistogramVec
	findingsTotal   *prometheus.CounterVec
}

// New creates a Collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Files handled by the parser coordinator by language and status",
		}, []string{"language", "status"}),

		parseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parse_duration_seconds",
			Help:      "Wall time of a whole-project parse",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}),

		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_batches_total",
			Help:      "Graph write batches by kind and final status",
		}, []string{"kind", "status"}),

		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_batch_duration_seconds",
			Help:      "Duration of committed graph write batches, retries included",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"kind"}),

		batchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_batch_retries_total",
			Help:      "Retried graph write attempts by kind",
		}, []string{"kind"}),

		graphWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_writes_total",
			Help:      "Nodes and relationships written by outcome",
		}, []string{"element", "outcome"}),

		analysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Detector runs by analysis and terminal state",
		}, []string{"analysis", "state"}),

		analysisSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Detector run duration",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"analysis"}),

		findingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Findings reported by finding type and severity",
		}, []string{"finding_type", "severity"}),
	}

	c.registry.MustRegister(
		c.filesTotal, c.parseDuration,
		c.batchesTotal, c.batchDuration, c.batchRetries, c.graphWrites,
		c.analysesTotal, c.analysisSeconds, c.findingsTotal,
	)
	return c
}

// WithRuntimeCollectors adds Go runtime and process metrics, for long-running binaries
func (c *Collector) WithRuntimeCollectors() *Collector {
	if c != nil {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Registry exposes the underlying registry for gathering and tests
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// FileProcessed counts one file outcome: parsed, failed, cached, abandoned or skipped
func (c *Collector) FileProcessed(language, status string) {
	if c == nil {
		return
	}
	if language == "" {
		language = "unknown"
	}
	c.filesTotal.WithLabelValues(language, status).Inc()
}

// ParseFinished records a whole-project parse
func (c *Collector) ParseFinished(d time.Duration) {
	if c == nil {
		return
	}
	c.parseDuration.Observe(d.Seconds())
}

// BatchCommitted records a batch that committed after d
func (c *Collector) BatchCommitted(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.batchesTotal.WithLabelValues(kind, "committed").Inc()
	c.batchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// BatchFailed records a batch that exhausted its retries
func (c *Collector) BatchFailed(kind string) {
	if c == nil {
		return
	}
	c.batchesTotal.WithLabelValues(kind, "failed").Inc()
}

// BatchRetried records one retry of a batch
func (c *Collector) BatchRetried(kind string) {
	if c == nil {
		return
	}
	c.batchRetries.WithLabelValues(kind).Inc()
}

// GraphWrites adds written element counts; element is "node", "relationship" or "placeholder"
func (c *Collector) GraphWrites(element, outcome string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.graphWrites.WithLabelValues(element, outcome).Add(float64(n))
}

// AnalysisFinished records a detector run in its terminal state
func (c *Collector) AnalysisFinished(analysis, state string, d time.Duration) {
	if c == nil {
		return
	}
	c.analysesTotal.WithLabelValues(analysis, state).Inc()
	c.analysisSeconds.WithLabelValues(analysis).Observe(d.Seconds())
}

// FindingReported counts one finding
func (c *Collector) FindingReported(findingType, severity string) {
	if c == nil {
		return
	}
	c.findingsTotal.WithLabelValues(findingType, severity).Inc()
}
