// Package metrics is the backend-neutral metrics facade used by the ingest
// engine. The default backend discards everything; cmd/csvload installs a
// Datadog or Pushgateway backend at startup.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the engine.
const (
	FilesTotal          = "ingest_files_total"
	RowsTotal           = "ingest_rows_total"
	BatchesTotal        = "ingest_batches_total"
	StepDurationSeconds = "ingest_step_duration_seconds"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. nil restores the nop backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the current backend.
func Flush() error { return current().Flush() }

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// RecordFile counts one processed file by final status (ok, failed, skipped).
func RecordFile(status string) {
	IncCounter(FilesTotal, 1, Labels{"status": status})
}

// RecordRows counts appended rows.
func RecordRows(n int64) {
	if n > 0 {
		IncCounter(RowsTotal, float64(n), nil)
	}
}

// RecordBatch counts one appended batch.
func RecordBatch() {
	IncCounter(BatchesTotal, 1, nil)
}

// RecordStep observes how long a pipeline step took.
func RecordStep(step, status string, d time.Duration) {
	ObserveHistogram(StepDurationSeconds, d.Seconds(), Labels{"step": step, "status": status})
}
