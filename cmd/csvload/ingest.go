package main

import (
	"context"
	"fmt"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"csvload/internal/ingest"
	"csvload/internal/queue"
)

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Load the given files now and exit",
		Long: `Load the given files through the worker pool and exit once all are done.

A bare file name is looked up in the staging directory; anything with a
directory component (./a.csv, data/a.csv) is used as given. The exit code is
1 if any file was not loaded.`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.validate(true); err != nil {
				return err
			}
			return a.ingest(cmd, args)
		},
	}
}

func (a *app) ingest(cmd *cobra.Command, files []string) error {
	ctx := cmd.Context()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	cleanup, err := a.deps.initMetrics(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	orch := newOrchestrator(a, store)

	var (
		mu      sync.Mutex
		reports = make(map[string]ingest.Report, len(files))
	)
	q := queue.New(func(ctx context.Context, job queue.Job) {
		rep := orch.Process(ctx, job.File)
		mu.Lock()
		reports[job.ID] = rep
		mu.Unlock()
	}, a.logger)

	workers := a.cfg.Workers
	if workers > len(files) {
		workers = len(files)
	}
	if err := q.Start(workers); err != nil {
		return err
	}

	jobs := make([]queue.Job, 0, len(files))
	for _, f := range files {
		job, err := q.Enqueue(f)
		if err != nil {
			q.Stop()
			return err
		}
		jobs = append(jobs, job)
	}
	q.AwaitIdle()
	q.Stop()

	failed := 0
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tFILE\tTABLE\tSTATE\tROWS\tDETAIL")
	for _, job := range jobs {
		rep := reports[job.ID]
		detail := ""
		if rep.Err != nil {
			detail = rep.Err.Error()
			if rep.Stage != "" {
				detail = rep.Stage + ": " + detail
			}
		}
		state := ""
		if rep.State != 0 {
			state = rep.State.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", rep.Status, job.File, rep.Table, state, rep.Rows, detail)
		if !rep.OK() {
			failed++
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d of %d files not loaded", failed, len(jobs))}
	}
	return nil
}
