package balance

import (
	"context"
	"math/big"
	"time"

	"github.com/quotelane/rfq-gateway/internal/rfq"
)

// Record is one persisted balance cache entry.
type Record struct {
	Owner        rfq.ERC20Owner
	Balance      *big.Int
	TimeOfSample time.Time
}

// Store is the persisted key-value cache of maker token balances. It is
// written only by the balance update job (upserts) and the eviction job
// (removal of zero balances); all other consumers are read-only.
type Store interface {
	// Balances returns one entry per owner in input order; a nil entry
	// means the pair is not cached.
	Balances(ctx context.Context, chainID int64, owners []rfq.ERC20Owner) ([]*big.Int, error)
	// AddOwner registers a newly observed owner/token pair with a zero
	// balance so the update job starts sampling it. Existing entries are
	// left untouched.
	AddOwner(ctx context.Context, chainID int64, owner rfq.ERC20Owner) error
	// Owners lists every owner/token pair currently tracked for the chain.
	Owners(ctx context.Context, chainID int64) ([]rfq.ERC20Owner, error)
	// SetBalances upserts one record per owner with the given sample time.
	SetBalances(ctx context.Context, chainID int64, owners []rfq.ERC20Owner, balances []*big.Int, sampledAt time.Time) error
	// EvictZero deletes all records whose balance is exactly zero and
	// returns how many were removed.
	EvictZero(ctx context.Context, chainID int64) (int64, error)
	// Close releases the store's resources.
	Close() error
}
