// Package jobs runs the gateway's recurring background work: a scheduler
// that enqueues jobs on their intervals, a Redis-backed broker, and workers
// that consume and execute them.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Payload carries the per-run arguments of a background job.
type Payload struct {
	ChainID int64 `json:"chainId"`
	// Timestamp is the enqueue time in unix milliseconds, used to measure
	// queue latency and to disambiguate runs in the history lists.
	Timestamp int64 `json:"timestamp"`
}

// Job is one unit of queued work.
type Job struct {
	ID      string  `json:"id"`
	Queue   string  `json:"queue"`
	Payload Payload `json:"payload"`
}

// NewJob builds a job for queue with a fresh ID and the current timestamp.
func NewJob(queue string, chainID int64) Job {
	return Job{
		ID:    uuid.NewString(),
		Queue: queue,
		Payload: Payload{
			ChainID:   chainID,
			Timestamp: time.Now().UnixMilli(),
		},
	}
}

// Result records the outcome of one executed job for the retained history.
type Result struct {
	JobID      string `json:"jobId"`
	ChainID    int64  `json:"chainId"`
	FinishedAt int64  `json:"finishedAt"`
	Error      string `json:"error,omitempty"`
}

// Broker moves jobs between the scheduler and the workers.
type Broker interface {
	// Enqueue pushes a job onto its queue.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks up to its internal poll timeout for the next job on
	// queue. A nil job with a nil error means the queue was empty.
	Dequeue(ctx context.Context, queue string) (*Job, error)
	// RecordResult appends the outcome to the queue's bounded history.
	RecordResult(ctx context.Context, job Job, jobErr error) error
}

// Progress reports a job's completion percentage. The worker emits 0 before
// the handler runs and 100 after it succeeds; handlers with distinct phases
// report the checkpoints in between.
type Progress func(pct int)

// Descriptor binds a queue to its schedule and its handler.
type Descriptor struct {
	Queue    string
	Interval time.Duration
	Process  func(ctx context.Context, payload Payload, progress Progress) error
}
