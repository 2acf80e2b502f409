package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/pkg/metrics"
)

// brokerErrorBackoff throttles the dequeue loop when the broker itself is
// failing, so a Redis outage does not spin the worker hot.
const brokerErrorBackoff = time.Second

// Worker consumes jobs from its descriptors' queues and executes them. One
// goroutine per queue per concurrency slot; a handler failure or panic marks
// the job failed and the loop continues with the next job.
type Worker struct {
	broker      Broker
	descriptors map[string]Descriptor
	concurrency int
	backoff     time.Duration
	logger      *zap.Logger

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewWorker builds a worker executing the given descriptors with concurrency
// consumers per queue.
func NewWorker(broker Broker, descriptors []Descriptor, concurrency int, logger *zap.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	byQueue := make(map[string]Descriptor, len(descriptors))
	for _, descriptor := range descriptors {
		byQueue[descriptor.Queue] = descriptor
	}
	return &Worker{
		broker:      broker,
		descriptors: byQueue,
		concurrency: concurrency,
		backoff:     brokerErrorBackoff,
		logger:      logger.Named("job-worker"),
		done:        make(chan struct{}),
	}
}

// Start launches the consumer goroutines. Close stops them.
func (w *Worker) Start() {
	for _, descriptor := range w.descriptors {
		for i := 0; i < w.concurrency; i++ {
			w.wg.Add(1)
			go w.consume(descriptor)
		}
	}
}

// Close stops the consumers and waits for in-flight jobs to finish.
func (w *Worker) Close() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Worker) consume(descriptor Descriptor) {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		job, err := w.broker.Dequeue(context.Background(), descriptor.Queue)
		if err != nil {
			w.logger.Error("Failed to dequeue job",
				zap.String("queue", descriptor.Queue),
				zap.Error(err))
			select {
			case <-w.done:
				return
			case <-time.After(w.backoff):
			}
			continue
		}
		if job == nil {
			continue
		}
		w.execute(descriptor, *job)
	}
}

func (w *Worker) execute(descriptor Descriptor, job Job) {
	logger := w.logger.With(
		zap.String("queue", job.Queue),
		zap.String("job_id", job.ID),
		zap.Int64("chain_id", job.Payload.ChainID))
	logger.Debug("Processing job",
		zap.Int64("queue_latency_ms", time.Now().UnixMilli()-job.Payload.Timestamp))

	progress := func(pct int) {
		metrics.JobProgress.WithLabelValues(job.Queue).Set(float64(pct))
		logger.Debug("Job progress", zap.Int("pct", pct))
	}

	start := time.Now()
	progress(0)
	err := w.process(descriptor, job, progress)
	metrics.JobDuration.WithLabelValues(job.Queue).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.JobsProcessed.WithLabelValues(job.Queue, "failed").Inc()
		logger.Error("Job failed", zap.Error(err))
	} else {
		progress(100)
		metrics.JobsProcessed.WithLabelValues(job.Queue, "completed").Inc()
		logger.Debug("Job completed", zap.Duration("duration", time.Since(start)))
	}

	resultCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if recordErr := w.broker.RecordResult(resultCtx, job, err); recordErr != nil {
		logger.Warn("Failed to record job result", zap.Error(recordErr))
	}
}

// process runs the handler, converting a panic into an error so one bad job
// cannot take the consumer down.
func (w *Worker) process(descriptor Descriptor, job Job, progress Progress) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return descriptor.Process(context.Background(), job.Payload, progress)
}
