package balance

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/internal/rfq"
)

// memStore is an in-memory Store with the same field semantics as the Redis
// implementation.
type memStore struct {
	records    map[string]*big.Int
	ownerCalls int
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*big.Int{}}
}

func (m *memStore) Balances(ctx context.Context, chainID int64, owners []rfq.ERC20Owner) ([]*big.Int, error) {
	result := make([]*big.Int, len(owners))
	for i, owner := range owners {
		if balance, ok := m.records[ownerField(owner)]; ok {
			result[i] = new(big.Int).Set(balance)
		}
	}
	return result, nil
}

func (m *memStore) AddOwner(ctx context.Context, chainID int64, owner rfq.ERC20Owner) error {
	field := ownerField(owner)
	if _, ok := m.records[field]; !ok {
		m.records[field] = big.NewInt(0)
	}
	return nil
}

func (m *memStore) Owners(ctx context.Context, chainID int64) ([]rfq.ERC20Owner, error) {
	m.ownerCalls++
	var owners []rfq.ERC20Owner
	for field := range m.records {
		var ownerHex, tokenHex string
		for i := 0; i < len(field); i++ {
			if field[i] == ':' {
				ownerHex, tokenHex = field[:i], field[i+1:]
				break
			}
		}
		owners = append(owners, rfq.ERC20Owner{
			Owner: common.HexToAddress(ownerHex),
			Token: common.HexToAddress(tokenHex),
		})
	}
	return owners, nil
}

func (m *memStore) SetBalances(ctx context.Context, chainID int64, owners []rfq.ERC20Owner, balances []*big.Int, sampledAt time.Time) error {
	for i, owner := range owners {
		m.records[ownerField(owner)] = new(big.Int).Set(balances[i])
	}
	return nil
}

func (m *memStore) EvictZero(ctx context.Context, chainID int64) (int64, error) {
	var evicted int64
	for field, balance := range m.records {
		if balance.Sign() == 0 {
			delete(m.records, field)
			evicted++
		}
	}
	return evicted, nil
}

func (m *memStore) Close() error { return nil }

// fixedChecker returns a fixed balance for every pair.
type fixedChecker struct {
	balance int64
	calls   int
}

func (f *fixedChecker) BatchMinOfBalancesOrAllowances(ctx context.Context, owners []rfq.ERC20Owner, spender common.Address) ([]*big.Int, error) {
	f.calls++
	balances := make([]*big.Int, len(owners))
	for i := range balances {
		balances[i] = big.NewInt(f.balance)
	}
	return balances, nil
}

var testSpender = common.HexToAddress("0xdef1c0ded9bec7f1a1670819833240f027b25eff")

func TestService_ReadPath_CacheHit(t *testing.T) {
	store := newMemStore()
	owners := makeOwners(2)
	store.records[ownerField(owners[0])] = big.NewInt(100)
	store.records[ownerField(owners[1])] = big.NewInt(200)

	checker := &fixedChecker{balance: 999}
	service := NewService(store, checker, time.Minute, zap.NewNop())

	balances, err := service.GetMinOfBalancesOrAllowances(context.Background(), 1, owners, testSpender)
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, int64(100), balances[0].Int64())
	assert.Equal(t, int64(200), balances[1].Int64())
	assert.Equal(t, 0, checker.calls, "no on-chain call on full cache hit")
}

func TestService_ReadPath_MissFetchesInline(t *testing.T) {
	store := newMemStore()
	owners := makeOwners(3)
	store.records[ownerField(owners[1])] = big.NewInt(42)

	checker := &fixedChecker{balance: 7}
	service := NewService(store, checker, time.Minute, zap.NewNop())

	balances, err := service.GetMinOfBalancesOrAllowances(context.Background(), 1, owners, testSpender)
	require.NoError(t, err)
	require.Len(t, balances, 3)
	assert.Equal(t, int64(7), balances[0].Int64(), "miss fetched on-chain")
	assert.Equal(t, int64(42), balances[1].Int64(), "hit served from cache")
	assert.Equal(t, int64(7), balances[2].Int64())
	assert.Equal(t, 1, checker.calls)

	// Misses were registered for future sampling.
	trackedOwners, err := store.Owners(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, trackedOwners, 3)
}

func TestService_UpdateJob_UpsertsAllTracked(t *testing.T) {
	store := newMemStore()
	owners := makeOwners(4)
	for _, owner := range owners {
		require.NoError(t, store.AddOwner(context.Background(), 1, owner))
	}

	checker := &fixedChecker{balance: 55}
	service := NewService(store, checker, time.Minute, zap.NewNop())

	require.NoError(t, service.UpdateERC20OwnerBalances(context.Background(), 1, testSpender, nil))
	for _, owner := range owners {
		assert.Equal(t, int64(55), store.records[ownerField(owner)].Int64())
	}
}

func TestService_UpdateJob_OwnerListIsResultCached(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.AddOwner(context.Background(), 1, makeOwners(1)[0]))

	checker := &fixedChecker{balance: 1}
	service := NewService(store, checker, time.Minute, zap.NewNop())

	require.NoError(t, service.UpdateERC20OwnerBalances(context.Background(), 1, testSpender, nil))
	require.NoError(t, service.UpdateERC20OwnerBalances(context.Background(), 1, testSpender, nil))
	assert.Equal(t, 1, store.ownerCalls, "owner listing served from the result cache inside the TTL")
	assert.Equal(t, 2, checker.calls, "balances are still re-sampled every run")
}

func TestService_UpdateJob_NoOwnersIsNoOp(t *testing.T) {
	store := newMemStore()
	checker := &fixedChecker{balance: 1}
	service := NewService(store, checker, time.Minute, zap.NewNop())

	require.NoError(t, service.UpdateERC20OwnerBalances(context.Background(), 1, testSpender, nil))
	assert.Equal(t, 0, checker.calls)
}

// phaseStore and phaseChecker record the order of the update job's phases.
type phaseStore struct {
	*memStore
	events *[]string
}

func (p *phaseStore) SetBalances(ctx context.Context, chainID int64, owners []rfq.ERC20Owner, balances []*big.Int, sampledAt time.Time) error {
	*p.events = append(*p.events, "write")
	return p.memStore.SetBalances(ctx, chainID, owners, balances, sampledAt)
}

type phaseChecker struct {
	fixedChecker
	events *[]string
}

func (p *phaseChecker) BatchMinOfBalancesOrAllowances(ctx context.Context, owners []rfq.ERC20Owner, spender common.Address) ([]*big.Int, error) {
	*p.events = append(*p.events, "fetch")
	return p.fixedChecker.BatchMinOfBalancesOrAllowances(ctx, owners, spender)
}

func TestService_UpdateJob_ReportsMidpointBetweenFetchAndWrite(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.AddOwner(context.Background(), 1, makeOwners(1)[0]))

	var events []string
	checker := &phaseChecker{fixedChecker: fixedChecker{balance: 3}, events: &events}
	service := NewService(&phaseStore{memStore: store, events: &events}, checker, time.Minute, zap.NewNop())

	err := service.UpdateERC20OwnerBalances(context.Background(), 1, testSpender, func(pct int) {
		events = append(events, fmt.Sprintf("progress:%d", pct))
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "progress:50", "write"}, events,
		"midpoint lands between the on-chain read and the cache write")
}

func TestService_EvictZeroBalances(t *testing.T) {
	store := newMemStore()
	owners := makeOwners(4)
	for i, balance := range []int64{0, 5, 0, 10} {
		store.records[ownerField(owners[i])] = big.NewInt(balance)
	}

	service := NewService(store, &fixedChecker{}, time.Minute, zap.NewNop())

	count, err := service.EvictZeroBalances(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Len(t, store.records, 2)

	// A second pass on the now-clean cache removes nothing.
	count, err = service.EvictZeroBalances(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
