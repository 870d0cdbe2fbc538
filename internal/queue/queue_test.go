package queue

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	files []string
}

func (r *recorder) handle(_ context.Context, job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, job.File)
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func TestQueue_AwaitIdleDrainsAllJobs(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	q := New(rec.handle, nil)
	if err := q.Start(3); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	for i := 0; i < 50; i++ {
		if _, err := q.Enqueue(fmt.Sprintf("f%02d.csv", i)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.AwaitIdle()

	if got := len(rec.seen()); got != 50 {
		t.Fatalf("handled %d jobs, want 50", got)
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d after AwaitIdle", q.Len())
	}
	for i, s := range q.States() {
		if s != Idle {
			t.Fatalf("worker %d state = %v, want idle", i, s)
		}
	}
}

func TestQueue_AwaitIdleWaitsForJobsEnqueuedMeanwhile(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	var q *Queue
	q = New(func(ctx context.Context, job Job) {
		rec.handle(ctx, job)
		if job.File == "parent.csv" {
			time.Sleep(5 * time.Millisecond)
			if _, err := q.Enqueue("child.csv"); err != nil {
				t.Errorf("Enqueue child: %v", err)
			}
		}
	}, nil)
	if err := q.Start(2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	if _, err := q.Enqueue("parent.csv"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q.AwaitIdle()

	if got := rec.seen(); !reflect.DeepEqual(got, []string{"parent.csv", "child.csv"}) {
		t.Fatalf("handled %v", got)
	}
}

func TestQueue_SingleWorkerIsFIFO(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	q := New(rec.handle, nil)

	var want []string
	for i := 0; i < 20; i++ {
		f := fmt.Sprintf("%d.csv", i)
		want = append(want, f)
		if _, err := q.Enqueue(f); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if q.Len() != 20 {
		t.Fatalf("Len = %d before start, want 20", q.Len())
	}

	if err := q.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	q.Stop()

	if got := rec.seen(); !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestQueue_StopRunsQueuedJobsThenStopsEveryWorker(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	q := New(func(ctx context.Context, job Job) {
		time.Sleep(time.Millisecond)
		rec.handle(ctx, job)
	}, nil)
	if err := q.Start(4); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 30; i++ {
		if _, err := q.Enqueue(fmt.Sprintf("%d.csv", i)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	q.Stop()

	if got := len(rec.seen()); got != 30 {
		t.Fatalf("handled %d jobs, want 30", got)
	}
	states := q.States()
	if len(states) != 4 {
		t.Fatalf("states = %v, want 4 workers", states)
	}
	for i, s := range states {
		if s != Stopped {
			t.Fatalf("worker %d state = %v, want stopped", i, s)
		}
	}

	if _, err := q.Enqueue("late.csv"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after Stop = %v, want ErrStopped", err)
	}

	// Idempotent.
	q.Stop()
}

func TestQueue_FailingAndPanickingJobsDoNotKillWorkers(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	q := New(func(ctx context.Context, job Job) {
		if job.File == "panic.csv" {
			panic("boom")
		}
		rec.handle(ctx, job)
	}, nil)
	if err := q.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	for _, f := range []string{"a.csv", "panic.csv", "b.csv"} {
		if _, err := q.Enqueue(f); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.AwaitIdle()

	if got := rec.seen(); !reflect.DeepEqual(got, []string{"a.csv", "b.csv"}) {
		t.Fatalf("handled %v", got)
	}
	if s := q.States()[0]; s != Idle {
		t.Fatalf("worker state = %v, want idle", s)
	}
}

func TestQueue_StartErrors(t *testing.T) {
	t.Parallel()

	q := New(func(context.Context, Job) {}, nil)
	if err := q.Start(0); err == nil {
		t.Fatalf("Start(0) should fail")
	}
	if err := q.Start(2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := q.Start(2); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v, want ErrAlreadyStarted", err)
	}
	q.Stop()
}

func TestQueue_JobsGetDistinctIDs(t *testing.T) {
	t.Parallel()

	q := New(func(context.Context, Job) {}, nil)
	a, _ := q.Enqueue("x.csv")
	b, _ := q.Enqueue("x.csv")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids %q and %q should be distinct and non-empty", a.ID, b.ID)
	}
	if a.EnqueuedAt.IsZero() {
		t.Fatalf("EnqueuedAt not set")
	}
	q.Stop()
}
