// Package queue is an in-memory FIFO of ingestion jobs drained by a fixed
// pool of workers.
//
// Shutdown is in-band: Stop appends one stop marker per worker behind the
// jobs already queued, so every accepted job runs before the workers exit.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// ErrStopped is returned by Enqueue once Stop has been called.
	ErrStopped = errors.New("queue: stopped")

	ErrAlreadyStarted = errors.New("queue: already started")
)

// item is a queue slot: a job or a stop marker.
type item struct {
	job  Job
	stop bool
}

// Queue is an unbounded FIFO with a worker pool.
type Queue struct {
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	ready   *sync.Cond // items became available
	drained *sync.Cond // pending dropped to zero

	items    []item
	queued   int // jobs in items
	pending  int // jobs enqueued and not yet finished
	states   []WorkerState
	started  bool
	stopping bool

	wg sync.WaitGroup
}

// New returns a Queue that runs handler for every job. Workers start with Start.
func New(handler Handler, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{handler: handler, logger: logger}
	q.ready = sync.NewCond(&q.mu)
	q.drained = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends file to the tail of the queue. It never blocks.
func (q *Queue) Enqueue(file string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopping {
		return Job{}, ErrStopped
	}
	job := newJob(file)
	q.items = append(q.items, item{job: job})
	q.queued++
	q.pending++
	q.ready.Signal()

	q.logger.Debug("job enqueued", "job_id", job.ID, "file", file, "queued", q.queued)
	return job, nil
}

// Start spawns n workers. It may be called once.
func (q *Queue) Start(n int) error {
	if n <= 0 {
		return fmt.Errorf("queue: worker count must be > 0, got %d", n)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return ErrAlreadyStarted
	}
	if q.stopping {
		return ErrStopped
	}
	q.started = true
	q.states = make([]WorkerState, n)

	q.wg.Add(n)
	for i := 0; i < n; i++ {
		go q.work(i)
	}
	q.logger.Info("workers started", "workers", n)
	return nil
}

// AwaitIdle blocks until every job enqueued so far, and every job enqueued
// while waiting, has finished. It never returns while jobs are pending and
// no workers run.
func (q *Queue) AwaitIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		q.drained.Wait()
	}
}

// Stop rejects new jobs, lets the workers finish everything already queued
// and waits for all of them to exit. Calling Stop again just waits.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.stopping {
		q.stopping = true
		for range q.states {
			q.items = append(q.items, item{stop: true})
		}
		q.ready.Broadcast()
		q.logger.Info("stopping workers", "workers", len(q.states), "queued", q.queued)
	}
	q.mu.Unlock()

	q.wg.Wait()
}

// Len returns the number of jobs waiting to be picked up.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}

// States returns a snapshot of every worker's state, indexed by worker id.
func (q *Queue) States() []WorkerState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]WorkerState(nil), q.states...)
}

func (q *Queue) work(id int) {
	defer q.wg.Done()
	log := q.logger.With("worker_id", id)

	for {
		q.mu.Lock()
		for len(q.items) == 0 {
			q.ready.Wait()
		}
		it := q.items[0]
		q.items[0] = item{}
		q.items = q.items[1:]

		if it.stop {
			q.states[id] = Stopped
			q.mu.Unlock()
			log.Debug("worker stopped")
			return
		}
		q.queued--
		q.states[id] = Processing
		q.mu.Unlock()

		q.run(log, it.job)

		q.mu.Lock()
		q.states[id] = Idle
		q.pending--
		if q.pending == 0 {
			q.drained.Broadcast()
		}
		q.mu.Unlock()
	}
}

// run calls the handler with a context detached from shutdown: a job that
// started always runs to completion.
func (q *Queue) run(log *slog.Logger, job Job) {
	log = log.With("job_id", job.ID, "file", job.File)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("job handler panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	log.Debug("job started", "waited", start.Sub(job.EnqueuedAt))
	q.handler(context.Background(), job)
	log.Debug("job finished", "duration", time.Since(start))
}
