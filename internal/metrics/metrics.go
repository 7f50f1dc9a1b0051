// Package metrics is a small, backend-agnostic facade for run metrics.
//
// A global backend defaults to a no-op so every call site is safe whether or
// not a real backend (Pushgateway, DogStatsD) has been installed. Concrete
// metric systems live in subpackages; the rest of the module depends only on
// the functions here.
//
// SetBackend is meant to be called once at startup, before any worker
// goroutine records anything.
package metrics

import "time"

// Metric names shared with the backends.
const (
	StepTotal       = "tally_step_total"
	StepDuration    = "tally_step_duration_seconds"
	RecordsTotal    = "tally_records_total"
	Categories      = "tally_categories"
	ExportBatches   = "tally_export_batches_total"
	PartitionsTotal = "tally_partitions_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration-style observation.
	ObserveHistogram(name string, value float64, labels Labels)
	// SetGauge records the current value of a gauge.
	SetGauge(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) SetGauge(string, float64, Labels)         {}
func (nopBackend) Flush() error                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one execution of a run step (parse, merge, reduce,
// export) and records its duration, labelled by outcome.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRecords adds delta to the record counter for kind. Kinds used by the
// runner are "accepted", "skipped", "malformed" and "malformed_partial".
func RecordRecords(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordPartitions counts partitions finished by one topology.
func RecordPartitions(job, topology string, n int) {
	if n <= 0 {
		return
	}
	backend.IncCounter(PartitionsTotal, float64(n), Labels{"job": job, "topology": topology})
}

// RecordCategories sets the distinct-category gauge for job.
func RecordCategories(job string, n int) {
	backend.SetGauge(Categories, float64(n), Labels{"job": job})
}

// RecordBatches counts export batches written.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(ExportBatches, float64(delta), Labels{"job": job})
}
