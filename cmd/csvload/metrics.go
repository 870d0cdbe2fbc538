package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"csvload/internal/config"
	"csvload/internal/metrics"
	"csvload/internal/metrics/datadog"
	"csvload/internal/metrics/prompush"
)

const metricsJob = "csvload"

// pushEvery is how often the Pushgateway backend pushes while running.
const pushEvery = 60 * time.Second

// closingBackend is a metrics backend that owns a flush loop.
type closingBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests. Production code never reassigns them.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (closingBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		b, err := prompush.NewBackend(job, url)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = metrics.SetBackend
	logWarn           = func(msg string, args ...any) { slog.Warn(msg, args...) }
)

// initMetrics installs the configured metrics backend.
//
// The returned cleanup is never nil, is safe to call once and performs the
// final flush. Flush failures are logged, not returned.
func initMetrics(ctx context.Context, cfg config.Config) (func(), error) {
	noop := func() {}

	switch cfg.MetricsBackend {
	case "", config.MetricsNone:
		return noop, nil

	case config.MetricsDatadog, "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName: metricsJob,
			Tags:    datadog.ParseTagsCSV(cfg.MetricsTags),
		})
		if err != nil {
			return noop, fmt.Errorf("init metrics: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logWarn("metrics: datadog close error", "error", err)
			}
			setMetricsBackend(nil)
		}, nil

	case config.MetricsPushgateway:
		b, err := newPushBackend(metricsJob, cfg.PushgatewayURL)
		if err != nil {
			return noop, fmt.Errorf("init metrics: %w", err)
		}
		setMetricsBackend(b)

		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			t := time.NewTicker(pushEvery)
			defer t.Stop()
			for {
				select {
				case <-t.C:
					if err := b.Flush(); err != nil {
						logWarn("metrics: push error", "error", err)
					}
				case <-stop:
					return
				}
			}
		}()

		return func() {
			close(stop)
			<-done
			if err := b.Flush(); err != nil {
				logWarn("metrics: final push error", "error", err)
			}
			setMetricsBackend(nil)
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", cfg.MetricsBackend)
	}
}
