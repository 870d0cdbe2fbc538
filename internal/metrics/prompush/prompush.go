// Package prompush implements a Prometheus Pushgateway backend for the
// internal/metrics package. Metrics live in a private registry; Flush pushes
// the whole registry, replacing the job's previous group.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"csvload/internal/metrics"
)

// pusher is the part of *push.Pusher that Flush needs.
type pusher interface {
	Push() error
}

// Backend implements metrics.Backend on top of a Pushgateway.
type Backend struct {
	reg *prometheus.Registry
	p   pusher

	files   *prometheus.CounterVec
	rows    prometheus.Counter
	batches prometheus.Counter
	steps   *prometheus.HistogramVec
}

// NewBackend registers the ingest metrics and targets gatewayURL under job.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: empty pushgateway url")
	}
	if job == "" {
		job = "csvload"
	}

	b := newBackend(prometheus.NewRegistry())
	b.p = push.New(gatewayURL, job).Gatherer(b.reg)
	return b, nil
}

func newBackend(reg *prometheus.Registry) *Backend {
	f := promauto.With(reg)
	return &Backend{
		reg: reg,
		files: f.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.FilesTotal,
			Help: "Files processed by the ingest workers, by final status",
		}, []string{"status"}),
		rows: f.NewCounter(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows appended to destination tables",
		}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Batches appended to destination tables",
		}),
		steps: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Duration of each ingest step",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"step", "status"}),
	}
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.FilesTotal:
		b.files.WithLabelValues(orUnknown(labels["status"])).Add(delta)
	case metrics.RowsTotal:
		b.rows.Add(delta)
	case metrics.BatchesTotal:
		b.batches.Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}
	b.steps.WithLabelValues(orUnknown(labels["step"]), orUnknown(labels["status"])).Observe(value)
}

// Flush pushes the registry to the gateway.
func (b *Backend) Flush() error {
	if err := b.p.Push(); err != nil {
		return fmt.Errorf("prompush: %w", err)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

var _ metrics.Backend = (*Backend)(nil)
