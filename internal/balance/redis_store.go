package balance

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/quotelane/rfq-gateway/internal/rfq"
)

// RedisStore persists balance records in one hash per chain. Fields are
// "<owner>:<token>" (lowercased), values are "<balance>|<unix_ms sample
// time>". Single-field upserts keep cross-process writes serialized by Redis
// itself; no transactions are needed.
type RedisStore struct {
	client          redis.UniversalClient
	maxRowsPerWrite int
}

// NewRedisStore creates a balance store on client. Writes are pipelined in
// chunks of at most maxRowsPerWrite fields.
func NewRedisStore(client redis.UniversalClient, maxRowsPerWrite int) *RedisStore {
	return &RedisStore{client: client, maxRowsPerWrite: maxRowsPerWrite}
}

func balancesKey(chainID int64) string {
	return fmt.Sprintf("rfq:balances:%d", chainID)
}

func ownerField(owner rfq.ERC20Owner) string {
	return strings.ToLower(owner.Owner.Hex()) + ":" + strings.ToLower(owner.Token.Hex())
}

func encodeRecord(balance *big.Int, sampledAt time.Time) string {
	return balance.String() + "|" + strconv.FormatInt(sampledAt.UnixMilli(), 10)
}

func decodeBalance(value string) (*big.Int, error) {
	raw, _, found := strings.Cut(value, "|")
	if !found {
		return nil, fmt.Errorf("malformed balance record %q", value)
	}
	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("malformed balance value %q", raw)
	}
	return balance, nil
}

// Balances implements Store.
func (s *RedisStore) Balances(ctx context.Context, chainID int64, owners []rfq.ERC20Owner) ([]*big.Int, error) {
	if len(owners) == 0 {
		return nil, nil
	}

	fields := make([]string, len(owners))
	for i, owner := range owners {
		fields[i] = ownerField(owner)
	}

	values, err := s.client.HMGet(ctx, balancesKey(chainID), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read balance cache for chain %d: %w", chainID, err)
	}

	result := make([]*big.Int, len(owners))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue // cache miss
		}
		balance, err := decodeBalance(raw)
		if err != nil {
			return nil, fmt.Errorf("chain %d, field %s: %w", chainID, fields[i], err)
		}
		result[i] = balance
	}
	return result, nil
}

// AddOwner implements Store. HSETNX keeps an existing sampled balance.
func (s *RedisStore) AddOwner(ctx context.Context, chainID int64, owner rfq.ERC20Owner) error {
	err := s.client.HSetNX(ctx, balancesKey(chainID), ownerField(owner), encodeRecord(big.NewInt(0), time.Time{})).Err()
	if err != nil {
		return fmt.Errorf("failed to add owner to balance cache for chain %d: %w", chainID, err)
	}
	return nil
}

// Owners implements Store.
func (s *RedisStore) Owners(ctx context.Context, chainID int64) ([]rfq.ERC20Owner, error) {
	fields, err := s.client.HKeys(ctx, balancesKey(chainID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list balance cache owners for chain %d: %w", chainID, err)
	}

	owners := make([]rfq.ERC20Owner, 0, len(fields))
	for _, field := range fields {
		ownerHex, tokenHex, found := strings.Cut(field, ":")
		if !found {
			return nil, fmt.Errorf("malformed balance cache field %q for chain %d", field, chainID)
		}
		owners = append(owners, rfq.ERC20Owner{
			Owner: common.HexToAddress(ownerHex),
			Token: common.HexToAddress(tokenHex),
		})
	}
	return owners, nil
}

// SetBalances implements Store.
func (s *RedisStore) SetBalances(ctx context.Context, chainID int64, owners []rfq.ERC20Owner, balances []*big.Int, sampledAt time.Time) error {
	if len(owners) != len(balances) {
		return fmt.Errorf("owner/balance length mismatch: %d != %d", len(owners), len(balances))
	}

	key := balancesKey(chainID)
	for start := 0; start < len(owners); start += s.maxRowsPerWrite {
		end := start + s.maxRowsPerWrite
		if end > len(owners) {
			end = len(owners)
		}

		pipe := s.client.Pipeline()
		for i := start; i < end; i++ {
			pipe.HSet(ctx, key, ownerField(owners[i]), encodeRecord(balances[i], sampledAt))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to write balance cache chunk for chain %d: %w", chainID, err)
		}
	}
	return nil
}

// EvictZero implements Store.
func (s *RedisStore) EvictZero(ctx context.Context, chainID int64) (int64, error) {
	key := balancesKey(chainID)

	var evicted int64
	var cursor uint64
	for {
		pairs, next, err := s.client.HScan(ctx, key, cursor, "", 1000).Result()
		if err != nil {
			return evicted, fmt.Errorf("failed to scan balance cache for chain %d: %w", chainID, err)
		}

		var zeroFields []string
		for i := 0; i+1 < len(pairs); i += 2 {
			balance, err := decodeBalance(pairs[i+1])
			if err != nil {
				return evicted, fmt.Errorf("chain %d, field %s: %w", chainID, pairs[i], err)
			}
			if balance.Sign() == 0 {
				zeroFields = append(zeroFields, pairs[i])
			}
		}
		if len(zeroFields) > 0 {
			removed, err := s.client.HDel(ctx, key, zeroFields...).Result()
			if err != nil {
				return evicted, fmt.Errorf("failed to evict zero balances for chain %d: %w", chainID, err)
			}
			evicted += removed
		}

		cursor = next
		if cursor == 0 {
			return evicted, nil
		}
	}
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
