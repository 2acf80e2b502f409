package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKeyPrefix = "rfq:jobs:"
	// pollTimeout bounds each blocking pop so workers observe context
	// cancellation promptly.
	pollTimeout = time.Second
)

// RedisBroker queues jobs on Redis lists. Jobs travel LPUSH -> BRPOP so each
// queue is FIFO, and every queue keeps two bounded history lists
// (":completed" and ":failed") trimmed to historyLimit entries.
type RedisBroker struct {
	client       redis.UniversalClient
	historyLimit int64
}

// NewRedisBroker wraps client as a job broker. historyLimit bounds the
// retained results per queue per outcome.
func NewRedisBroker(client redis.UniversalClient, historyLimit int64) *RedisBroker {
	return &RedisBroker{client: client, historyLimit: historyLimit}
}

func queueKey(queue string) string {
	return queueKeyPrefix + queue
}

// Enqueue pushes the job onto the head of its queue list.
func (b *RedisBroker) Enqueue(ctx context.Context, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	if err := b.client.LPush(ctx, queueKey(job.Queue), encoded).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %s on %s: %w", job.ID, job.Queue, err)
	}
	return nil
}

// Dequeue pops the oldest job off the queue, blocking up to pollTimeout.
func (b *RedisBroker) Dequeue(ctx context.Context, queue string) (*Job, error) {
	values, err := b.client.BRPop(ctx, pollTimeout, queueKey(queue)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue from %s: %w", queue, err)
	}
	// BRPOP returns [key, value].
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d for %s", len(values), queue)
	}
	var job Job
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job from %s: %w", queue, err)
	}
	return &job, nil
}

// RecordResult appends the outcome to the matching history list and trims it
// to the configured limit.
func (b *RedisBroker) RecordResult(ctx context.Context, job Job, jobErr error) error {
	result := Result{
		JobID:      job.ID,
		ChainID:    job.Payload.ChainID,
		FinishedAt: time.Now().UnixMilli(),
	}
	key := queueKey(job.Queue) + ":completed"
	if jobErr != nil {
		result.Error = jobErr.Error()
		key = queueKey(job.Queue) + ":failed"
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result for job %s: %w", job.ID, err)
	}
	pipe := b.client.Pipeline()
	pipe.LPush(ctx, key, encoded)
	pipe.LTrim(ctx, key, 0, b.historyLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record result for job %s: %w", job.ID, err)
	}
	return nil
}
