package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler enqueues one job per descriptor per chain on each interval tick.
// It only produces jobs; execution belongs to the workers, so a slow handler
// never delays the schedule.
type Scheduler struct {
	broker   Broker
	chainIDs []int64
	logger   *zap.Logger

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler builds a scheduler producing jobs for every chain in chainIDs.
func NewScheduler(broker Broker, chainIDs []int64, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		broker:   broker,
		chainIDs: chainIDs,
		logger:   logger.Named("job-scheduler"),
		done:     make(chan struct{}),
	}
}

// Start launches one ticker goroutine per descriptor. It returns immediately;
// Close stops all of them.
func (s *Scheduler) Start(descriptors []Descriptor) {
	for _, descriptor := range descriptors {
		s.wg.Add(1)
		go s.run(descriptor)
	}
}

// Close stops the tickers and waits for them to exit.
func (s *Scheduler) Close() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *Scheduler) run(descriptor Descriptor) {
	defer s.wg.Done()

	ticker := time.NewTicker(descriptor.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.enqueueAll(descriptor.Queue)
		}
	}
}

func (s *Scheduler) enqueueAll(queue string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, chainID := range s.chainIDs {
		job := NewJob(queue, chainID)
		if err := s.broker.Enqueue(ctx, job); err != nil {
			s.logger.Error("Failed to enqueue job",
				zap.String("queue", queue),
				zap.Int64("chain_id", chainID),
				zap.Error(err))
			continue
		}
		s.logger.Debug("Enqueued job",
			zap.String("queue", queue),
			zap.String("job_id", job.ID),
			zap.Int64("chain_id", chainID))
	}
}
