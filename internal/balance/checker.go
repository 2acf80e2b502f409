package balance

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/internal/rfq"
)

// Checker batches the on-chain "min of balance and allowance" query for a set
// of owner/token pairs against one spender.
type Checker interface {
	BatchMinOfBalancesOrAllowances(ctx context.Context, owners []rfq.ERC20Owner, spender common.Address) ([]*big.Int, error)
}

const balanceCheckerABIJSON = `[{
	"inputs": [
		{"internalType": "address[]", "name": "owners", "type": "address[]"},
		{"internalType": "address[]", "name": "tokens", "type": "address[]"},
		{"internalType": "address", "name": "spender", "type": "address"}
	],
	"name": "getMinOfBalancesOrAllowances",
	"outputs": [{"internalType": "uint256[]", "name": "", "type": "uint256[]"}],
	"stateMutability": "view",
	"type": "function"
}]`

var (
	balanceCheckerABIOnce sync.Once
	balanceCheckerABI     abi.ABI
)

func checkerABI() abi.ABI {
	balanceCheckerABIOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(balanceCheckerABIJSON))
		if err != nil {
			panic(fmt.Sprintf("invalid balance checker ABI: %v", err))
		}
		balanceCheckerABI = parsed
	})
	return balanceCheckerABI
}

// overrideTarget is the pseudo-address the checker bytecode is installed at
// when the RPC target supports state overrides. Nothing is deployed there.
var overrideTarget = common.HexToAddress("0x0000000000000000000000000000000000420690")

// EthChecker implements Checker over JSON-RPC. Whether the call runs against
// a deployed helper contract or injects the helper bytecode via an eth_call
// state override is a capability of the RPC target, not a semantic fork: both
// paths execute the same contract code.
type EthChecker struct {
	maxPerCall int
	logger     *zap.Logger

	// doCall executes one already-encoded helper call and returns the raw
	// return data. Swapped out by tests.
	doCall func(ctx context.Context, data []byte) ([]byte, error)
}

// NewEthChecker creates a checker over rpcClient. When overrideCode is
// non-empty the state-override strategy is used and checkerAddress is
// ignored; otherwise checkerAddress must be a deployed helper contract.
func NewEthChecker(
	rpcClient *rpc.Client,
	checkerAddress common.Address,
	overrideCode []byte,
	maxPerCall int,
	logger *zap.Logger,
) *EthChecker {
	c := &EthChecker{
		maxPerCall: maxPerCall,
		logger:     logger.Named("balance-checker"),
	}

	if len(overrideCode) > 0 {
		gc := gethclient.New(rpcClient)
		overrides := map[common.Address]gethclient.OverrideAccount{
			overrideTarget: {Code: overrideCode},
		}
		c.doCall = func(ctx context.Context, data []byte) ([]byte, error) {
			msg := ethereum.CallMsg{To: &overrideTarget, Data: data}
			return gc.CallContract(ctx, msg, nil, &overrides)
		}
	} else {
		ec := ethclient.NewClient(rpcClient)
		c.doCall = func(ctx context.Context, data []byte) ([]byte, error) {
			msg := ethereum.CallMsg{To: &checkerAddress, Data: data}
			return ec.CallContract(ctx, msg, nil)
		}
	}
	return c
}

// BatchMinOfBalancesOrAllowances implements Checker. The input is split into
// chunks of at most maxPerCall pairs to respect call-data and gas limits;
// chunks execute concurrently and results are concatenated in input order. A
// failed chunk degrades to zero balances for its items rather than failing
// the batch.
func (c *EthChecker) BatchMinOfBalancesOrAllowances(
	ctx context.Context,
	owners []rfq.ERC20Owner,
	spender common.Address,
) ([]*big.Int, error) {
	results := make([]*big.Int, len(owners))

	var wg sync.WaitGroup
	for start := 0; start < len(owners); start += c.maxPerCall {
		end := start + c.maxPerCall
		if end > len(owners) {
			end = len(owners)
		}

		wg.Add(1)
		go func(start int, chunk []rfq.ERC20Owner) {
			defer wg.Done()

			balances, err := c.callChunk(ctx, chunk, spender)
			if err != nil {
				c.logger.Error("Balance check chunk failed, degrading to zero balances",
					zap.Int("offset", start),
					zap.Int("size", len(chunk)),
					zap.Error(err))
				for i := range chunk {
					results[start+i] = big.NewInt(0)
				}
				return
			}
			for i, balance := range balances {
				results[start+i] = balance
			}
		}(start, owners[start:end])
	}
	wg.Wait()

	return results, nil
}

func (c *EthChecker) callChunk(ctx context.Context, chunk []rfq.ERC20Owner, spender common.Address) ([]*big.Int, error) {
	ownerAddrs := make([]common.Address, len(chunk))
	tokenAddrs := make([]common.Address, len(chunk))
	for i, owner := range chunk {
		ownerAddrs[i] = owner.Owner
		tokenAddrs[i] = owner.Token
	}

	data, err := checkerABI().Pack("getMinOfBalancesOrAllowances", ownerAddrs, tokenAddrs, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to encode balance check: %w", err)
	}

	raw, err := c.doCall(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("balance check call failed: %w", err)
	}

	unpacked, err := checkerABI().Unpack("getMinOfBalancesOrAllowances", raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode balance check result: %w", err)
	}
	balances, ok := unpacked[0].([]*big.Int)
	if !ok || len(balances) != len(chunk) {
		return nil, fmt.Errorf("balance check returned %d results for %d pairs", len(balances), len(chunk))
	}
	return balances, nil
}
