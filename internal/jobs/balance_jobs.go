package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quotelane/rfq-gateway/internal/balance"
)

// Queue names for the maker balance cache jobs.
const (
	QueueBalanceUpdate = "maker-balance-cache-update"
	QueueBalanceEvict  = "maker-balance-cache-evict"
)

// BalanceChainSet holds the per-chain balance service and the allowance
// target checked alongside each raw balance.
type BalanceChainSet struct {
	Services map[int64]*balance.Service
	Spenders map[int64]common.Address
}

func (s BalanceChainSet) serviceFor(chainID int64) (*balance.Service, error) {
	service, ok := s.Services[chainID]
	if !ok {
		return nil, fmt.Errorf("no balance service configured for chain %d", chainID)
	}
	return service, nil
}

// BalanceUpdateDescriptor refreshes every tracked owner's balance on the
// job's chain.
func BalanceUpdateDescriptor(chains BalanceChainSet, interval time.Duration) Descriptor {
	return Descriptor{
		Queue:    QueueBalanceUpdate,
		Interval: interval,
		Process: func(ctx context.Context, payload Payload, progress Progress) error {
			service, err := chains.serviceFor(payload.ChainID)
			if err != nil {
				return err
			}
			spender, ok := chains.Spenders[payload.ChainID]
			if !ok {
				return fmt.Errorf("no spender configured for chain %d", payload.ChainID)
			}
			return service.UpdateERC20OwnerBalances(ctx, payload.ChainID, spender, progress)
		},
	}
}

// BalanceEvictDescriptor drops zero-balance rows from the cache on the job's
// chain so abandoned owners stop consuming batch call slots.
func BalanceEvictDescriptor(chains BalanceChainSet, interval time.Duration) Descriptor {
	return Descriptor{
		Queue:    QueueBalanceEvict,
		Interval: interval,
		Process: func(ctx context.Context, payload Payload, _ Progress) error {
			service, err := chains.serviceFor(payload.ChainID)
			if err != nil {
				return err
			}
			_, err = service.EvictZeroBalances(ctx, payload.ChainID)
			return err
		},
	}
}
