package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job is one file waiting to be ingested.
type Job struct {
	ID         string
	File       string
	EnqueuedAt time.Time
}

// Handler processes one job. It owns all error handling for the job: the
// queue only logs a recovered panic and moves on.
type Handler func(ctx context.Context, job Job)

func newJob(file string) Job {
	return Job{ID: uuid.NewString(), File: file, EnqueuedAt: time.Now()}
}

// WorkerState is the observable state of one worker.
type WorkerState int

const (
	Idle WorkerState = iota
	Processing
	Stopped
)

func (s WorkerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Processing:
		return "processing"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}
