// Package datadog implements a Datadog backend for the internal/metrics package.
//
// Metrics are buffered in memory and submitted by a background loop every
// FlushEvery, plus once more on Close. A flush swaps the buffers under the
// lock and submits outside it, so workers recording metrics never wait on
// the network.
package datadog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"csvload/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "csvload".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:ingest"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// test seams
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// stepKey identifies one step duration aggregate.
type stepKey struct{ step, status string }

// stepStats aggregates the durations observed for one stepKey since the
// last flush.
type stepStats struct {
	runs float64
	sum  float64
	max  float64
}

// buffer is everything recorded between two flushes.
type buffer struct {
	files   map[string]float64 // status -> count
	rows    float64
	batches float64
	steps   map[stepKey]*stepStats
}

func newBuffer() buffer {
	return buffer{files: map[string]float64{}, steps: map[stepKey]*stepStats{}}
}

func (b buffer) empty() bool {
	return len(b.files) == 0 && b.rows == 0 && b.batches == 0 && len(b.steps) == 0
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api      metricsSubmitter
	ctx      context.Context
	baseTags []string
	now      func() time.Time

	flushEvery time.Duration
	newTicker  func(d time.Duration) *time.Ticker
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	closeErr   error

	mu  sync.Mutex
	buf buffer
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend constructs a Datadog backend using the official client. API
// key and site come from the client's DD_API_KEY and DD_SITE variables.
// The environment tag is taken from ENV, then DD_ENV.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, errors.New("datadog metrics init: nil context")
	}

	job := opts.JobName
	if job == "" {
		job = "csvload"
	}
	tags := append([]string{envTag(), "job:" + job}, opts.Tags...)

	b := &Backend{
		api:        opts.submitter,
		ctx:        dd.NewDefaultContext(parent),
		baseTags:   tags,
		now:        opts.now,
		flushEvery: opts.FlushEvery,
		newTicker:  opts.newTicker,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		buf:        newBuffer(),
	}
	if b.api == nil {
		b.api = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.flushEvery <= 0 {
		b.flushEvery = 60 * time.Second
	}
	if b.newTicker == nil {
		b.newTicker = time.NewTicker
	}

	go b.loop()
	return b, nil
}

func envTag() string {
	for _, k := range []string{"ENV", "DD_ENV"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.done)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stop:
			return
		}
	}
}

// Close stops the flush loop and flushes once more. Later calls return the
// first call's result.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done
		b.closeErr = b.Flush()
	})
	return b.closeErr
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.FilesTotal:
		b.buf.files[orUnknown(labels["status"])] += delta
	case metrics.RowsTotal:
		b.buf.rows += delta
	case metrics.BatchesTotal:
		b.buf.batches += delta
	}
}

// ObserveHistogram implements metrics.Backend. Only step durations are kept.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StepDurationSeconds {
		return
	}

	k := stepKey{step: orUnknown(labels["step"]), status: orUnknown(labels["status"])}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.buf.steps[k]
	if st == nil {
		st = &stepStats{}
		b.buf.steps[k] = st
	}
	st.runs++
	st.sum += value
	st.max = max(st.max, value)
}

// Flush submits buffered metrics and resets the buffers, even when the
// submission fails. It returns nil without a request when nothing was
// recorded.
func (b *Backend) Flush() error {
	b.mu.Lock()
	buf := b.buf
	b.buf = newBuffer()
	b.mu.Unlock()

	if buf.empty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.series(buf, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// series renders buf as Datadog series stamped with ts, in a stable order.
func (b *Backend) series(buf buffer, ts int64) []datadogV2.MetricSeries {
	count := datadogV2.METRICINTAKETYPE_COUNT
	gauge := datadogV2.METRICINTAKETYPE_GAUGE
	var out []datadogV2.MetricSeries
	add := func(metric string, typ datadogV2.MetricIntakeType, v float64, extra ...string) {
		out = append(out, datadogV2.MetricSeries{
			Metric: metric,
			Type:   typ.Ptr(),
			Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(v)}},
			Tags:   append(append(make([]string, 0, len(b.baseTags)+len(extra)), b.baseTags...), extra...),
		})
	}

	statuses := make([]string, 0, len(buf.files))
	for s := range buf.files {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		add("ingest.files.total", count, buf.files[s], "status:"+s)
	}

	if buf.rows != 0 {
		add("ingest.rows.total", count, buf.rows)
	}
	if buf.batches != 0 {
		add("ingest.batches.total", count, buf.batches)
	}

	keys := make([]stepKey, 0, len(buf.steps))
	for k := range buf.steps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].step != keys[j].step {
			return keys[i].step < keys[j].step
		}
		return keys[i].status < keys[j].status
	})
	for _, k := range keys {
		st := buf.steps[k]
		step, status := "step:"+k.step, "status:"+k.status
		add("ingest.step.runs", count, st.runs, step, status)
		add("ingest.step.duration_seconds.avg", gauge, st.sum/st.runs, step, status)
		add("ingest.step.duration_seconds.max", gauge, st.max, step, status)
	}

	return out
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// ParseTagsCSV parses comma-separated tags like "env:prod,service:ingest".
func ParseTagsCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
