// Package balance maintains the persisted cache of maker token balances:
// batched on-chain reads on the query path, plus the periodic update and
// eviction jobs that keep the cache fresh and bounded.
package balance

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/internal/cache"
	"github.com/quotelane/rfq-gateway/internal/rfq"
	"github.com/quotelane/rfq-gateway/pkg/metrics"
)

// Service is the maker balance cache. Reads tolerate slightly stale balances
// bounded by the update job cadence; only the two background jobs write.
type Service struct {
	store   Store
	checker Checker
	logger  *zap.Logger

	// ownerCache bounds read load against the backing store for the
	// frequently running update job.
	ownerCache *cache.Cache[int64, []rfq.ERC20Owner]

	now func() time.Time
}

// NewService creates a balance cache service. ownerListTTL is the result
// cache TTL for the update job's owner listing.
func NewService(store Store, checker Checker, ownerListTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:      store,
		checker:    checker,
		logger:     logger.Named("balance-cache"),
		ownerCache: cache.New[int64, []rfq.ERC20Owner](ownerListTTL),
		now:        time.Now,
	}
}

// GetMinOfBalancesOrAllowances returns, for each owner/token pair, the
// smaller of the maker's balance and its allowance granted to spender.
// Cached entries are served as-is; uncached pairs are registered for future
// sampling and checked on-chain inline. Results preserve input order.
func (s *Service) GetMinOfBalancesOrAllowances(
	ctx context.Context,
	chainID int64,
	owners []rfq.ERC20Owner,
	spender common.Address,
) ([]*big.Int, error) {
	start := time.Now()
	defer func() {
		metrics.BalanceCacheReadLatency.Observe(time.Since(start).Seconds())
	}()

	metrics.BalanceCacheChecked.Add(float64(len(owners)))
	cached, err := s.store.Balances(ctx, chainID, owners)
	if err != nil {
		return nil, fmt.Errorf("failed to read maker balance cache: %w", err)
	}

	var pending []rfq.ERC20Owner
	var pendingIdx []int
	for i, balance := range cached {
		if balance == nil {
			metrics.BalanceCacheMissed.Inc()
			if err := s.store.AddOwner(ctx, chainID, owners[i]); err != nil {
				s.logger.Warn("Failed to register owner for balance sampling",
					zap.Int64("chain_id", chainID), zap.Error(err))
			}
			pending = append(pending, owners[i])
			pendingIdx = append(pendingIdx, i)
		}
	}

	if len(pending) > 0 {
		fetched, err := s.checker.BatchMinOfBalancesOrAllowances(ctx, pending, spender)
		if err != nil {
			return nil, fmt.Errorf("inline balance check failed: %w", err)
		}
		for i, idx := range pendingIdx {
			cached[idx] = fetched[i]
		}
	}

	return cached, nil
}

// UpdateERC20OwnerBalances samples current on-chain balances for every
// tracked owner/token pair and upserts them into the persisted cache. Run by
// the balance-update background job. progress (nil allowed) is reported at 50
// between the on-chain read and the cache write.
func (s *Service) UpdateERC20OwnerBalances(ctx context.Context, chainID int64, spender common.Address, progress func(pct int)) error {
	start := time.Now()
	defer func() {
		metrics.BalanceCacheWriteLatency.Observe(time.Since(start).Seconds())
	}()
	if progress == nil {
		progress = func(int) {}
	}

	owners, err := s.ownerCache.GetOrFetch(ctx, chainID, func(ctx context.Context) ([]rfq.ERC20Owner, error) {
		return s.store.Owners(ctx, chainID)
	})
	if err != nil {
		return fmt.Errorf("failed to list tracked owners for chain %d: %w", chainID, err)
	}
	if len(owners) == 0 {
		return nil
	}
	metrics.BalanceCacheNumOwners.WithLabelValues(strconv.FormatInt(chainID, 10)).Set(float64(len(owners)))

	balances, err := s.checker.BatchMinOfBalancesOrAllowances(ctx, owners, spender)
	if err != nil {
		return fmt.Errorf("balance update check failed for chain %d: %w", chainID, err)
	}
	progress(50)

	if err := s.store.SetBalances(ctx, chainID, owners, balances, s.now()); err != nil {
		return fmt.Errorf("failed to persist balances for chain %d: %w", chainID, err)
	}
	return nil
}

// EvictZeroBalances removes cache records whose balance is exactly zero,
// bounding cache growth from makers that no longer hold a token. Run by the
// eviction background job. Returns the number of evicted records.
func (s *Service) EvictZeroBalances(ctx context.Context, chainID int64) (int64, error) {
	start := time.Now()
	defer func() {
		metrics.BalanceCacheEvictLatency.Observe(time.Since(start).Seconds())
	}()

	count, err := s.store.EvictZero(ctx, chainID)
	if err != nil {
		return count, fmt.Errorf("failed to evict zero balances for chain %d: %w", chainID, err)
	}
	if count > 0 {
		s.logger.Info("Evicted zero-balance cache records",
			zap.Int64("chain_id", chainID), zap.Int64("count", count))
	}
	return count, nil
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}
