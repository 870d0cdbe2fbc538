package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"csvload/internal/metrics"
	"csvload/internal/parser/csv"
	"csvload/internal/schema"
	"csvload/internal/storage"
)

// Report statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Pipeline steps, in order.
const (
	StepDetect  = "detect"
	StepResolve = "resolve"
	StepTable   = "ensure_table"
	StepLoad    = "load"
	StepMove    = "move"
)

// Report is the outcome of processing one file.
type Report struct {
	File      string // file reference as enqueued
	Path      string // resolved path
	Dest      string // path after the move, on success
	Table     string
	Separator rune
	State     TableState
	Rows      int64
	Stage     string // failing step, if any
	Status    string
	Err       error
	Duration  time.Duration
}

// OK reports whether the file was fully ingested and moved.
func (r Report) OK() bool { return r.Status == StatusOK }

// Options configure an Orchestrator.
type Options struct {
	// StagingDir resolves bare file names.
	StagingDir string

	// ProcessedDir is the sibling directory name successful files move into.
	ProcessedDir string

	// BatchSize is the number of rows per append. <= 0 means DefaultBatchSize.
	BatchSize int

	// SerializeTables makes jobs targeting the same table run one at a time.
	SerializeTables bool

	// Source controls decoding of the input files.
	Source csv.Options
}

// Orchestrator runs the ingestion steps for one file at a time per caller:
// detect separator, resolve schema, ensure table, load, move.
//
// It is safe for concurrent use by multiple workers.
type Orchestrator struct {
	opts   Options
	tables *TableManager
	loader *BatchLoader
	locks  *keyedMutex
	logger *slog.Logger
}

// NewOrchestrator wires the table manager and loader around store.
func NewOrchestrator(store storage.Store, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ProcessedDir == "" {
		opts.ProcessedDir = DefaultProcessedDir
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Orchestrator{
		opts:   opts,
		tables: &TableManager{Store: store, Logger: logger},
		loader: &BatchLoader{Store: store, BatchSize: opts.BatchSize, Source: opts.Source, Logger: logger},
		locks:  newKeyedMutex(),
		logger: logger,
	}
}

// Path resolves a file reference: bare names live in the staging directory,
// anything with a directory component is used as is.
func (o *Orchestrator) Path(fileRef string) string {
	if filepath.IsAbs(fileRef) || filepath.Base(fileRef) != fileRef {
		return fileRef
	}
	return filepath.Join(o.opts.StagingDir, fileRef)
}

// Process ingests one staged file. It never returns an error and never
// panics: every outcome, including a recovered panic, is in the Report.
// Failed files are left in place.
func (o *Orchestrator) Process(ctx context.Context, fileRef string) (rep Report) {
	start := time.Now()
	rep = Report{File: fileRef, Path: o.Path(fileRef)}
	log := o.logger.With("file", rep.Path)

	defer func() {
		if r := recover(); r != nil {
			rep.Status = StatusFailed
			rep.Err = fmt.Errorf("panic: %v", r)
			log.Error("panic while processing file", "stage", rep.Stage, "panic", r, "stack", string(debug.Stack()))
		}
		rep.Duration = time.Since(start)
		metrics.RecordFile(rep.Status)
		o.logReport(log, rep)
	}()

	if !o.staged(&rep) {
		return rep
	}

	var spec schema.TableSpec
	ok := o.step(&rep, StepDetect, func() (err error) {
		rep.Separator, err = csv.DetectSeparator(rep.Path, o.opts.Source)
		return err
	}) && o.step(&rep, StepResolve, func() (err error) {
		spec, err = schema.Resolve(rep.Path, rep.Separator, o.opts.Source)
		rep.Table = spec.TableName
		return err
	})
	if !ok {
		return rep
	}

	if o.opts.SerializeTables {
		unlock := o.locks.Lock(spec.TableName)
		defer unlock()
	}
	// A duplicate job for the same file may have loaded and moved it while
	// this one waited; nothing may be truncated on its behalf.
	if !o.staged(&rep) {
		return rep
	}

	ok = o.step(&rep, StepTable, func() (err error) {
		rep.State, err = o.tables.EnsureTable(ctx, spec)
		return err
	}) && o.step(&rep, StepLoad, func() (err error) {
		rep.Rows, err = o.loader.Load(ctx, rep.Path, spec, rep.Separator)
		return err
	}) && o.step(&rep, StepMove, func() (err error) {
		rep.Dest, err = MarkProcessed(rep.Path, o.opts.ProcessedDir)
		return err
	})
	if ok {
		rep.Status = StatusOK
	}
	return rep
}

// staged checks that rep.Path is still a regular file in staging. A missing
// file marks rep skipped; anything else unusable fails it at detect.
func (o *Orchestrator) staged(rep *Report) bool {
	fi, err := os.Stat(rep.Path)
	if errors.Is(err, os.ErrNotExist) {
		rep.Status = StatusSkipped
		rep.Err = err
		return false
	}
	if err == nil && !fi.Mode().IsRegular() {
		err = fmt.Errorf("not a regular file")
	}
	if err != nil {
		rep.Status, rep.Stage, rep.Err = StatusFailed, StepDetect, err
		return false
	}
	return true
}

// step runs fn as the named step, records its duration and, on failure,
// marks rep as failed at that step.
func (o *Orchestrator) step(rep *Report, name string, fn func() error) bool {
	rep.Stage = name
	t0 := time.Now()
	err := fn()

	status := StatusOK
	if err != nil {
		status = StatusFailed
	}
	metrics.RecordStep(name, status, time.Since(t0))

	if err != nil {
		rep.Status = StatusFailed
		rep.Err = err
		return false
	}
	rep.Stage = ""
	return true
}

func (o *Orchestrator) logReport(log *slog.Logger, rep Report) {
	switch rep.Status {
	case StatusOK:
		log.Info("file ingested",
			"table", rep.Table,
			"separator", string(rep.Separator),
			"state", rep.State.String(),
			"rows", rep.Rows,
			"dest", rep.Dest,
			"duration", rep.Duration,
		)
	case StatusSkipped:
		log.Warn("file skipped: not found in staging", "err", rep.Err)
	default:
		log.Error("file failed",
			"table", rep.Table,
			"stage", rep.Stage,
			"rows", rep.Rows,
			"duration", rep.Duration,
			"err", rep.Err,
		)
	}
}
