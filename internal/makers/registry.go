// Package makers keeps an always-consistent, periodically refreshed view of
// which market makers are eligible to trade which pairs on one chain.
package makers

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/internal/rfq"
	"github.com/quotelane/rfq-gateway/pkg/metrics"
)

// AllowLists holds the externally supplied maker ID allow-lists for each
// workflow/order-type partition.
type AllowLists struct {
	RfqtRfqOrder MakerIDSet
	RfqtOtcOrder MakerIDSet
	Rfqm         MakerIDSet
}

type partitionKey struct {
	workflow  rfq.Workflow
	orderType rfq.OrderType
}

type partition struct {
	offering  rfq.AssetOffering
	pairIndex map[string][]rfq.Maker
}

// snapshot is one immutable, fully-built view of the maker set. All
// partitions in a snapshot derive from the same store fetch.
type snapshot struct {
	fingerprint string
	partitions  map[partitionKey]partition
}

func emptySnapshot() *snapshot {
	return &snapshot{partitions: map[partitionKey]partition{}}
}

// Registry polls the maker store and publishes immutable snapshots of the
// eligible maker partitions. Readers never block on I/O: they only ever see
// the most recently published complete snapshot.
type Registry struct {
	store    Store
	chainID  int64
	allow    AllowLists
	interval time.Duration
	logger   *zap.Logger

	current     atomic.Pointer[snapshot]
	refreshing  atomic.Bool
	subscribers struct {
		sync.Mutex
		fns []func()
	}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	inflight sync.WaitGroup
}

// NewRegistry creates a registry for one chain. Call Initialize before use.
func NewRegistry(store Store, chainID int64, allow AllowLists, interval time.Duration, logger *zap.Logger) *Registry {
	r := &Registry{
		store:    store,
		chainID:  chainID,
		allow:    allow,
		interval: interval,
		logger:   logger.Named("maker-registry").With(zap.Int64("chain_id", chainID)),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.current.Store(emptySnapshot())
	return r
}

// Initialize performs one synchronous refresh and then starts the periodic
// refresh loop. A failure of the first refresh is a startup failure.
func (r *Registry) Initialize(ctx context.Context) error {
	if err := r.refresh(ctx); err != nil {
		return fmt.Errorf("initial maker refresh failed: %w", err)
	}

	go r.loop()
	return nil
}

// Close stops the refresh loop and waits for it, and any in-flight refresh
// cycle, to exit.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	r.inflight.Wait()
}

// Subscribe registers fn to run synchronously after every refresh cycle that
// changed the published snapshot. fn must not block for long; it runs on the
// refresh goroutine after the new snapshot is visible to readers.
func (r *Registry) Subscribe(fn func()) {
	r.subscribers.Lock()
	defer r.subscribers.Unlock()
	r.subscribers.fns = append(r.subscribers.fns, fn)
}

// OfferingForOrderType returns the most recently published asset offering for
// the workflow/order-type partition. Never performs I/O.
func (r *Registry) OfferingForOrderType(workflow rfq.Workflow, orderType rfq.OrderType) rfq.AssetOffering {
	return r.current.Load().partitions[partitionKey{workflow, orderType}].offering
}

// MakersForPair returns the makers quoting the pair under the RFQt workflow
// for the given order type. Lookup is order-independent and case-insensitive.
func (r *Registry) MakersForPair(tokenA, tokenB string, orderType rfq.OrderType) []rfq.Maker {
	key := partitionKey{rfq.WorkflowRfqt, orderType}
	return r.current.Load().partitions[key].pairIndex[rfq.PairKey(tokenA, tokenB)]
}

// RfqmMakersForPair is MakersForPair for the RFQm workflow.
func (r *Registry) RfqmMakersForPair(tokenA, tokenB string) []rfq.Maker {
	key := partitionKey{rfq.WorkflowRfqm, rfq.OrderTypeOtc}
	return r.current.Load().partitions[key].pairIndex[rfq.PairKey(tokenA, tokenB)]
}

func (r *Registry) loop() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			// Skip the tick if the previous refresh is still running;
			// cycles must never overlap.
			if !r.refreshing.CompareAndSwap(false, true) {
				r.logger.Warn("Skipping maker refresh tick, previous cycle still running")
				continue
			}
			r.inflight.Add(1)
			go func() {
				defer r.inflight.Done()
				defer r.refreshing.Store(false)
				if err := r.refresh(context.Background()); err != nil {
					// Availability over freshness: the previous snapshot
					// stays published.
					r.logger.Error("Failed to refresh makers", zap.Error(err))
				}
			}()
		}
	}
}

// refresh runs one fingerprint-check / fetch / rebuild / publish / notify
// cycle. The published snapshot is replaced only after it is fully built.
func (r *Registry) refresh(ctx context.Context) error {
	chainLabel := strconv.FormatInt(r.chainID, 10)
	timer := time.Now()
	defer func() {
		metrics.MakerRefreshLatency.WithLabelValues(chainLabel).Observe(time.Since(timer).Seconds())
	}()

	fingerprint, err := r.store.GetMakersFingerprint(ctx, r.chainID)
	if err != nil {
		metrics.MakerRefreshFailed.WithLabelValues(chainLabel).Inc()
		return fmt.Errorf("failed to fetch maker fingerprint: %w", err)
	}
	if fingerprint == r.current.Load().fingerprint {
		// No change since the last successful cycle.
		return nil
	}

	r.logger.Info("Start refreshing makers", zap.String("fingerprint", fingerprint))

	makerList, err := r.store.GetMakers(ctx, r.chainID)
	if err != nil {
		metrics.MakerRefreshFailed.WithLabelValues(chainLabel).Inc()
		return fmt.Errorf("failed to fetch makers: %w", err)
	}

	next := &snapshot{
		fingerprint: fingerprint,
		partitions: map[partitionKey]partition{
			{rfq.WorkflowRfqt, rfq.OrderTypeRfq}: {
				offering:  BuildAssetOffering(makerList, r.allow.RfqtRfqOrder, rfq.WorkflowRfqt),
				pairIndex: BuildPairIndex(makerList, r.allow.RfqtRfqOrder, rfq.WorkflowRfqt),
			},
			{rfq.WorkflowRfqt, rfq.OrderTypeOtc}: {
				offering:  BuildAssetOffering(makerList, r.allow.RfqtOtcOrder, rfq.WorkflowRfqt),
				pairIndex: BuildPairIndex(makerList, r.allow.RfqtOtcOrder, rfq.WorkflowRfqt),
			},
			{rfq.WorkflowRfqm, rfq.OrderTypeOtc}: {
				offering:  BuildAssetOffering(makerList, r.allow.Rfqm, rfq.WorkflowRfqm),
				pairIndex: BuildPairIndex(makerList, r.allow.Rfqm, rfq.WorkflowRfqm),
			},
		},
	}
	r.current.Store(next)

	r.notify()

	r.logger.Info("Successfully refreshed makers", zap.Int("makers", len(makerList)))
	metrics.MakerRefreshSucceeded.WithLabelValues(chainLabel).Inc()
	return nil
}

func (r *Registry) notify() {
	r.subscribers.Lock()
	fns := make([]func(), len(r.subscribers.fns))
	copy(fns, r.subscribers.fns)
	r.subscribers.Unlock()

	for _, fn := range fns {
		fn()
	}
}
