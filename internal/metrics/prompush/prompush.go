// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. Collectors live in a private registry that is pushed on
// Flush; a batch job like a tally run has no scrape endpoint to expose.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"tally/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" grouping key
	grouping   [][2]string
	reg        *prometheus.Registry

	stepCounter     *prometheus.CounterVec // step, status
	stepDuration    *prometheus.SummaryVec // step, status
	recordCounter   *prometheus.CounterVec // kind
	partitionsTotal *prometheus.CounterVec // topology
	categories      prometheus.Gauge
	batchCounter    prometheus.Counter
}

// NewBackend constructs a Pushgateway backend. jobName defaults to "tally".
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "tally"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Run step executions by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Run step duration in seconds by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		recordCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records by kind (accepted, skipped, malformed, malformed_partial).",
		}, []string{"kind"}),
		partitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.PartitionsTotal,
			Help: "Partitions processed by merge topology.",
		}, []string{"topology"}),
		categories: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metrics.Categories,
			Help: "Distinct categories in the final global tally.",
		}),
		batchCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.ExportBatches,
			Help: "Export batches written to the storage backend.",
		}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":      b.stepCounter,
		"step summary":      b.stepDuration,
		"record counter":    b.recordCounter,
		"partition counter": b.partitionsTotal,
		"categories gauge":  b.categories,
		"batch counter":     b.batchCounter,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter != nil {
			b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
		}
	case metrics.RecordsTotal:
		if b.recordCounter != nil {
			b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)
		}
	case metrics.PartitionsTotal:
		if b.partitionsTotal != nil {
			b.partitionsTotal.WithLabelValues(labels["topology"]).Add(delta)
		}
	case metrics.ExportBatches:
		if b.batchCounter != nil {
			b.batchCounter.Add(delta)
		}
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDuration || b.stepDuration == nil {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

func (b *Backend) SetGauge(name string, value float64, _ metrics.Labels) {
	if name != metrics.Categories || b.categories == nil {
		return
	}
	b.categories.Set(value)
}

// WithGrouping adds a grouping label below the job key. Processes that
// share a job name must push under distinct groups: a PUT replaces every
// metric in its group.
func (b *Backend) WithGrouping(name, value string) *Backend {
	b.grouping = append(b.grouping, [2]string{name, value})
	return b
}

// Flush pushes the registry to the Pushgateway, replacing the metrics of
// the backend's group.
func (b *Backend) Flush() error {
	p := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg)
	for _, g := range b.grouping {
		p = p.Grouping(g[0], g[1])
	}
	return p.Push()
}
