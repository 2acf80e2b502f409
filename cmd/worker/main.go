// The worker binary consumes the balance cache jobs: periodic on-chain
// balance sampling and zero-balance eviction, one consumer set per queue.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/internal/balance"
	"github.com/quotelane/rfq-gateway/internal/config"
	"github.com/quotelane/rfq-gateway/internal/database"
	"github.com/quotelane/rfq-gateway/internal/jobs"
	"github.com/quotelane/rfq-gateway/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	zapLogger, err := logger.NewFromEnv()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	redisClient, err := database.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	store := balance.NewRedisStore(redisClient, cfg.Balances.MaxRowsPerWrite)

	chains := jobs.BalanceChainSet{
		Services: make(map[int64]*balance.Service, len(cfg.Chains)),
		Spenders: make(map[int64]common.Address, len(cfg.Chains)),
	}
	for _, chain := range cfg.Chains {
		rpcClient, err := rpc.Dial(chain.RPCURL)
		if err != nil {
			zapLogger.Fatal("Failed to dial RPC endpoint",
				zap.Int64("chain_id", chain.ChainID), zap.Error(err))
		}

		var overrideCode []byte
		if chain.UseStateOverride {
			overrideCode = common.FromHex(chain.BalanceCheckerBytecode)
		}
		checker := balance.NewEthChecker(
			rpcClient,
			common.HexToAddress(chain.BalanceCheckerAddress),
			overrideCode,
			cfg.Balances.MaxChecksPerCall,
			zapLogger,
		)

		chains.Services[chain.ChainID] = balance.NewService(store, checker, cfg.Balances.OwnerListTTL, zapLogger)
		chains.Spenders[chain.ChainID] = common.HexToAddress(chain.SpenderAddress)
	}

	broker := jobs.NewRedisBroker(redisClient, cfg.Jobs.HistoryLimit)
	descriptors := []jobs.Descriptor{
		jobs.BalanceUpdateDescriptor(chains, cfg.Balances.UpdateInterval),
		jobs.BalanceEvictDescriptor(chains, cfg.Balances.EvictInterval),
	}

	worker := jobs.NewWorker(broker, descriptors, cfg.Jobs.WorkerConcurrency, zapLogger)
	worker.Start()
	zapLogger.Info("Worker started",
		zap.Int("queues", len(descriptors)),
		zap.Int("concurrency", cfg.Jobs.WorkerConcurrency))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down worker...")

	worker.Close()
	if err := redisClient.Close(); err != nil {
		zapLogger.Error("Failed to close Redis client", zap.Error(err))
	}
	zapLogger.Info("Worker exited properly")
}
