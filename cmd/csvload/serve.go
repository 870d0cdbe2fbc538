package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"csvload/internal/config"
	"csvload/internal/ingest"
	"csvload/internal/queue"
	"csvload/internal/storage"
	"csvload/internal/watch"
	"csvload/internal/web"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept CSV uploads over HTTP and ingest them with a worker pool",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.validate(true); err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.String("listen-addr", "", "HTTP listen address (default :8000)")
	f.Bool("watch", false, "also ingest CSV files dropped into the staging directory")
	f.Int64("max-upload-bytes", 0, "upload size limit in bytes (default 512 MiB)")
	bindFlags(a.v, f, map[string]string{
		"listen-addr":      config.KeyListenAddr,
		"watch":            config.KeyWatch,
		"max-upload-bytes": config.KeyMaxUploadBytes,
	})
	return cmd
}

// serve runs until SIGINT/SIGTERM, then stops intake and lets the workers
// finish every accepted job within the shutdown timeout.
func (a *app) serve(parent context.Context) error {
	cfg, log := a.cfg, a.logger

	if err := os.MkdirAll(cfg.StagingDir, 0o755); err != nil {
		return fmt.Errorf("staging dir: %w", err)
	}

	store, err := a.openStore(parent)
	if err != nil {
		return err
	}
	defer store.Close()

	cleanup, err := a.deps.initMetrics(parent, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	orch := newOrchestrator(a, store)
	q := queue.New(func(ctx context.Context, job queue.Job) {
		orch.Process(ctx, job.File)
	}, log)
	if err := q.Start(cfg.Workers); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Watch {
		files, err := watch.Start(ctx, watch.Options{Dir: cfg.StagingDir, Debounce: cfg.WatchDebounce, Logger: log})
		if err != nil {
			q.Stop()
			return err
		}
		go func() {
			for name := range files {
				if job, err := q.Enqueue(name); err != nil {
					log.Warn("watcher: enqueue refused", "file", name, "error", err)
				} else {
					log.Info("watcher: file queued", "file", name, "job_id", job.ID)
				}
			}
		}()
	}

	srv := web.NewServer(q, web.Options{
		StagingDir:     cfg.StagingDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		StageOnly:      cfg.Watch,
	}, log)

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start(cfg.ListenAddr) }()

	var result *multierror.Error
	select {
	case <-ctx.Done():
		log.Info("shutting down", "queued", q.Len())
	case err := <-srvErr:
		if !errors.Is(err, http.ErrServerClosed) {
			result = multierror.Append(result, fmt.Errorf("http server: %w", err))
		}
	}
	stop()

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
	}

	drained := make(chan struct{})
	go func() {
		q.Stop()
		close(drained)
	}()
	select {
	case <-drained:
		log.Info("all workers stopped")
	case <-sctx.Done():
		result = multierror.Append(result, fmt.Errorf("workers still busy after %s", cfg.ShutdownTimeout))
	}

	return result.ErrorOrNil()
}

func newOrchestrator(a *app, store storage.Store) *ingest.Orchestrator {
	return ingest.NewOrchestrator(store, ingest.Options{
		StagingDir:      a.cfg.StagingDir,
		ProcessedDir:    a.cfg.ProcessedDir,
		BatchSize:       a.cfg.BatchSize,
		SerializeTables: a.cfg.SerializeTables,
		Source:          a.cfg.SourceOptions(),
	}, a.logger)
}
