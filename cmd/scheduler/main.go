// The scheduler binary enqueues the recurring balance cache jobs on their
// intervals. Exactly one scheduler instance should run per deployment.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

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
	broker := jobs.NewRedisBroker(redisClient, cfg.Jobs.HistoryLimit)

	chainIDs := make([]int64, 0, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		chainIDs = append(chainIDs, chain.ChainID)
	}

	// The scheduler only produces jobs, so the descriptors carry no
	// handlers here; queue names and intervals are all it reads.
	descriptors := []jobs.Descriptor{
		{Queue: jobs.QueueBalanceUpdate, Interval: cfg.Balances.UpdateInterval},
		{Queue: jobs.QueueBalanceEvict, Interval: cfg.Balances.EvictInterval},
	}

	scheduler := jobs.NewScheduler(broker, chainIDs, zapLogger)
	scheduler.Start(descriptors)
	zapLogger.Info("Scheduler started",
		zap.Int("queues", len(descriptors)),
		zap.Int64s("chain_ids", chainIDs),
		zap.Duration("update_interval", cfg.Balances.UpdateInterval),
		zap.Duration("evict_interval", cfg.Balances.EvictInterval))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down scheduler...")

	scheduler.Close()
	if err := redisClient.Close(); err != nil {
		zapLogger.Error("Failed to close Redis client", zap.Error(err))
	}
	zapLogger.Info("Scheduler exited properly")
}
