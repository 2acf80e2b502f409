// Package api exposes the gateway's HTTP surface: quote fan-out for takers,
// token prices, and operational endpoints.
package api

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/internal/prices"
	"github.com/quotelane/rfq-gateway/internal/quotes"
	"github.com/quotelane/rfq-gateway/internal/rfq"
)

// QuoteClient is the quote fan-out surface the server needs per chain.
type QuoteClient interface {
	RequestIndicativeQuotes(ctx context.Context, request quotes.QuoteRequest) []quotes.IndicativeQuote
	RequestFirmQuotes(ctx context.Context, request quotes.QuoteRequest) []quotes.FirmQuote
}

// PriceSource resolves USD token prices.
type PriceSource interface {
	BatchFetchPrice(ctx context.Context, requests []prices.PriceRequest) []*decimal.Decimal
}

// BalanceSource serves cached maker balances.
type BalanceSource interface {
	GetMinOfBalancesOrAllowances(ctx context.Context, chainID int64, owners []rfq.ERC20Owner, spender common.Address) ([]*big.Int, error)
}

// BalanceBackend is one chain's balance source and its allowance target.
type BalanceBackend struct {
	Source  BalanceSource
	Spender common.Address
}

// Server is the gateway API server.
type Server struct {
	router        *gin.Engine
	logger        *zap.Logger
	quoteChains   map[int64]QuoteClient
	priceSource   PriceSource
	balanceChains map[int64]BalanceBackend
}

// NewServer creates the API server. quoteChains and balanceChains map chain
// ID to that chain's live backends.
func NewServer(
	logger *zap.Logger,
	quoteChains map[int64]QuoteClient,
	priceSource PriceSource,
	balanceChains map[int64]BalanceBackend,
) *Server {
	server := &Server{
		logger:        logger.Named("api"),
		quoteChains:   quoteChains,
		priceSource:   priceSource,
		balanceChains: balanceChains,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	server.router = router
	server.registerRoutes()
	return server
}

// Start runs the server on addr until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router returns the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rfqt := s.router.Group("/rfqt/v1")
	{
		rfqt.GET("/price", s.indicativeQuotes)
		rfqt.GET("/quote", s.firmQuotes)
	}

	s.router.GET("/prices", s.tokenPrices)
	s.router.GET("/balances", s.makerBalances)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
