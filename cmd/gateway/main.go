// The gateway binary serves the RFQ HTTP API: quote fan-out backed by the
// maker registry, and the token price oracle.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/api"
	"github.com/quotelane/rfq-gateway/internal/balance"
	"github.com/quotelane/rfq-gateway/internal/config"
	"github.com/quotelane/rfq-gateway/internal/database"
	"github.com/quotelane/rfq-gateway/internal/makers"
	"github.com/quotelane/rfq-gateway/internal/prices"
	"github.com/quotelane/rfq-gateway/internal/quotes"
	"github.com/quotelane/rfq-gateway/internal/rfq"
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

	db, err := database.NewPostgresDB(cfg.Database.DSN)
	if err != nil {
		zapLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	if err := db.AutoMigrate(&makers.MakerRecord{}); err != nil {
		zapLogger.Fatal("Failed to migrate maker table", zap.Error(err))
	}
	makerStore := makers.NewGormStore(db)

	allow := makers.AllowLists{
		RfqtRfqOrder: makers.NewMakerIDSet(cfg.Registry.RfqtRfqOrderMakerIDs),
		RfqtOtcOrder: makers.NewMakerIDSet(cfg.Registry.RfqtOtcOrderMakerIDs),
		Rfqm:         makers.NewMakerIDSet(cfg.Registry.RfqmMakerIDs),
	}

	redisClient, err := database.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	balanceStore := balance.NewRedisStore(redisClient, cfg.Balances.MaxRowsPerWrite)

	// One registry, refreshing quote client and balance backend per chain.
	// The first refresh is synchronous: the gateway never serves from an
	// empty maker set.
	quoteChains := make(map[int64]api.QuoteClient, len(cfg.Chains))
	balanceChains := make(map[int64]api.BalanceBackend, len(cfg.Chains))
	registries := make([]*makers.Registry, 0, len(cfg.Chains))
	for _, chain := range cfg.Chains {
		registry := makers.NewRegistry(makerStore, chain.ChainID, allow, cfg.Registry.RefreshInterval, zapLogger)
		if err := registry.Initialize(context.Background()); err != nil {
			zapLogger.Fatal("Failed to initialize maker registry",
				zap.Int64("chain_id", chain.ChainID), zap.Error(err))
		}
		registries = append(registries, registry)

		quoteChains[chain.ChainID] = quotes.NewRefreshingClient(
			registry,
			rfq.WorkflowRfqt,
			rfq.OrderTypeOtc,
			cfg.Quotes.RequestTimeout,
			zapLogger,
		)

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
		balanceChains[chain.ChainID] = api.BalanceBackend{
			Source:  balance.NewService(balanceStore, checker, cfg.Balances.OwnerListTTL, zapLogger),
			Spender: common.HexToAddress(chain.SpenderAddress),
		}
	}

	feed := prices.NewHTTPFeedClient(
		&http.Client{Timeout: cfg.Prices.Timeout},
		cfg.Prices.FeedURL,
		cfg.Prices.APIKey,
	)
	oracle := prices.NewOracle(feed, cfg.Prices.CacheTTL, zapLogger)

	server := api.NewServer(zapLogger, quoteChains, oracle, balanceChains)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		if err := server.Start(addr); err != nil {
			zapLogger.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down gateway...")

	for _, registry := range registries {
		registry.Close()
	}
	if err := redisClient.Close(); err != nil {
		zapLogger.Error("Failed to close Redis client", zap.Error(err))
	}
	zapLogger.Info("Gateway exited properly")
}
