package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/pkg/metrics"
)

// memBroker is an in-memory Broker with the same blocking-pop semantics as
// the Redis one.
type memBroker struct {
	mu      sync.Mutex
	queues  map[string][]Job
	results map[string][]Result

	dequeueErr   error
	dequeueFails int
}

func newMemBroker() *memBroker {
	return &memBroker{
		queues:  make(map[string][]Job),
		results: make(map[string][]Result),
	}
}

func (b *memBroker) Enqueue(ctx context.Context, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[job.Queue] = append(b.queues[job.Queue], job)
	return nil
}

func (b *memBroker) Dequeue(ctx context.Context, queue string) (*Job, error) {
	b.mu.Lock()
	if b.dequeueErr != nil {
		err := b.dequeueErr
		b.dequeueFails++
		b.mu.Unlock()
		return nil, err
	}
	pending := b.queues[queue]
	if len(pending) > 0 {
		job := pending[0]
		b.queues[queue] = pending[1:]
		b.mu.Unlock()
		return &job, nil
	}
	b.mu.Unlock()
	// Empty queue: behave like a short blocking pop.
	time.Sleep(5 * time.Millisecond)
	return nil, nil
}

func (b *memBroker) RecordResult(ctx context.Context, job Job, jobErr error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := Result{JobID: job.ID, ChainID: job.Payload.ChainID, FinishedAt: time.Now().UnixMilli()}
	key := job.Queue + ":completed"
	if jobErr != nil {
		result.Error = jobErr.Error()
		key = job.Queue + ":failed"
	}
	b.results[key] = append(b.results[key], result)
	return nil
}

func (b *memBroker) setDequeueErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dequeueErr = err
}

func (b *memBroker) failCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dequeueFails
}

func (b *memBroker) resultCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.results[key])
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker_ProcessesQueuedJobs(t *testing.T) {
	broker := newMemBroker()
	var mu sync.Mutex
	var seen []int64
	descriptor := Descriptor{
		Queue:    "test-queue",
		Interval: time.Hour,
		Process: func(ctx context.Context, payload Payload, _ Progress) error {
			mu.Lock()
			seen = append(seen, payload.ChainID)
			mu.Unlock()
			return nil
		},
	}

	require.NoError(t, broker.Enqueue(context.Background(), NewJob("test-queue", 1)))
	require.NoError(t, broker.Enqueue(context.Background(), NewJob("test-queue", 137)))

	worker := NewWorker(broker, []Descriptor{descriptor}, 1, zap.NewNop())
	worker.Start()
	defer worker.Close()

	waitFor(t, func() bool { return broker.resultCount("test-queue:completed") == 2 })
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{1, 137}, seen, "jobs run in enqueue order")
}

func TestWorker_FailureIsRecordedAndLoopContinues(t *testing.T) {
	broker := newMemBroker()
	descriptor := Descriptor{
		Queue:    "test-queue",
		Interval: time.Hour,
		Process: func(ctx context.Context, payload Payload, _ Progress) error {
			if payload.ChainID == 1 {
				return errors.New("rpc unavailable")
			}
			return nil
		},
	}

	require.NoError(t, broker.Enqueue(context.Background(), NewJob("test-queue", 1)))
	require.NoError(t, broker.Enqueue(context.Background(), NewJob("test-queue", 137)))

	worker := NewWorker(broker, []Descriptor{descriptor}, 1, zap.NewNop())
	worker.Start()
	defer worker.Close()

	waitFor(t, func() bool {
		return broker.resultCount("test-queue:failed") == 1 &&
			broker.resultCount("test-queue:completed") == 1
	})
	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, "rpc unavailable", broker.results["test-queue:failed"][0].Error)
}

func TestWorker_PanicIsIsolated(t *testing.T) {
	broker := newMemBroker()
	descriptor := Descriptor{
		Queue:    "test-queue",
		Interval: time.Hour,
		Process: func(ctx context.Context, payload Payload, _ Progress) error {
			if payload.ChainID == 1 {
				panic("boom")
			}
			return nil
		},
	}

	require.NoError(t, broker.Enqueue(context.Background(), NewJob("test-queue", 1)))
	require.NoError(t, broker.Enqueue(context.Background(), NewJob("test-queue", 137)))

	worker := NewWorker(broker, []Descriptor{descriptor}, 1, zap.NewNop())
	worker.Start()
	defer worker.Close()

	waitFor(t, func() bool {
		return broker.resultCount("test-queue:failed") == 1 &&
			broker.resultCount("test-queue:completed") == 1
	})
	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Contains(t, broker.results["test-queue:failed"][0].Error, "panicked")
}

func TestWorker_ReportsProgressCheckpoints(t *testing.T) {
	broker := newMemBroker()
	gauge := metrics.JobProgress.WithLabelValues("progress-queue")
	var mu sync.Mutex
	var atStart []int
	descriptor := Descriptor{
		Queue:    "progress-queue",
		Interval: time.Hour,
		Process: func(ctx context.Context, payload Payload, progress Progress) error {
			mu.Lock()
			atStart = append(atStart, int(testutil.ToFloat64(gauge)))
			mu.Unlock()
			progress(50)
			if payload.ChainID == 1 {
				return errors.New("rpc unavailable")
			}
			return nil
		},
	}

	worker := NewWorker(broker, []Descriptor{descriptor}, 1, zap.NewNop())
	worker.Start()
	defer worker.Close()

	require.NoError(t, broker.Enqueue(context.Background(), NewJob("progress-queue", 137)))
	waitFor(t, func() bool { return broker.resultCount("progress-queue:completed") == 1 })
	assert.Equal(t, float64(100), testutil.ToFloat64(gauge), "success ends at 100")

	require.NoError(t, broker.Enqueue(context.Background(), NewJob("progress-queue", 1)))
	waitFor(t, func() bool { return broker.resultCount("progress-queue:failed") == 1 })
	assert.Equal(t, float64(50), testutil.ToFloat64(gauge), "failure never reaches 100")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 0}, atStart, "each job starts from 0")
}

func TestWorker_DequeueErrorBacksOffAndRecovers(t *testing.T) {
	broker := newMemBroker()
	broker.setDequeueErr(errors.New("connection refused"))
	descriptor := Descriptor{
		Queue:    "test-queue",
		Interval: time.Hour,
		Process:  func(ctx context.Context, payload Payload, _ Progress) error { return nil },
	}

	worker := NewWorker(broker, []Descriptor{descriptor}, 1, zap.NewNop())
	worker.backoff = 5 * time.Millisecond
	worker.Start()
	defer worker.Close()

	// The loop keeps retrying through the outage instead of dying.
	waitFor(t, func() bool { return broker.failCount() >= 3 })

	require.NoError(t, broker.Enqueue(context.Background(), NewJob("test-queue", 1)))
	broker.setDequeueErr(nil)
	waitFor(t, func() bool { return broker.resultCount("test-queue:completed") == 1 })
}

func TestScheduler_EnqueuesPerChainOnEachTick(t *testing.T) {
	broker := newMemBroker()
	scheduler := NewScheduler(broker, []int64{1, 137}, zap.NewNop())
	scheduler.Start([]Descriptor{{
		Queue:    "test-queue",
		Interval: 10 * time.Millisecond,
		Process:  func(ctx context.Context, payload Payload, _ Progress) error { return nil },
	}})
	defer scheduler.Close()

	waitFor(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.queues["test-queue"]) >= 4
	})

	broker.mu.Lock()
	defer broker.mu.Unlock()
	chains := map[int64]int{}
	for _, job := range broker.queues["test-queue"] {
		assert.NotEmpty(t, job.ID)
		chains[job.Payload.ChainID]++
	}
	assert.GreaterOrEqual(t, chains[1], 2)
	assert.GreaterOrEqual(t, chains[137], 2)
}

func TestScheduler_CloseStopsProduction(t *testing.T) {
	broker := newMemBroker()
	scheduler := NewScheduler(broker, []int64{1}, zap.NewNop())
	scheduler.Start([]Descriptor{{
		Queue:    "test-queue",
		Interval: 5 * time.Millisecond,
		Process:  func(ctx context.Context, payload Payload, _ Progress) error { return nil },
	}})

	waitFor(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.queues["test-queue"]) >= 1
	})
	scheduler.Close()

	broker.mu.Lock()
	after := len(broker.queues["test-queue"])
	broker.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, after, len(broker.queues["test-queue"]), "no jobs enqueued after Close")
}
