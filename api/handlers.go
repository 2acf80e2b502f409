package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/internal/prices"
	"github.com/quotelane/rfq-gateway/internal/quotes"
	"github.com/quotelane/rfq-gateway/internal/rfq"
	"github.com/quotelane/rfq-gateway/pkg/errors"
)

func abortWithProblem(c *gin.Context, problem *errors.Problem) {
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(problem.Status, problem)
}

type quoteParams struct {
	ChainID      int64           `form:"chainId" binding:"required"`
	MakerToken   string          `form:"makerToken" binding:"required"`
	TakerToken   string          `form:"takerToken" binding:"required"`
	Amount       decimal.Decimal `form:"amount" binding:"required"`
	Side         string          `form:"side" binding:"required,oneof=sell buy"`
	TakerAddress string          `form:"takerAddress"`
	TxOrigin     string          `form:"txOrigin"`
}

func (s *Server) bindQuoteParams(c *gin.Context) (quoteParams, QuoteClient, bool) {
	var params quoteParams
	if err := c.ShouldBindQuery(&params); err != nil {
		abortWithProblem(c, errors.Invalid("%s", err.Error()))
		return params, nil, false
	}
	client, ok := s.quoteChains[params.ChainID]
	if !ok {
		abortWithProblem(c, errors.Invalid("unsupported chain %d", params.ChainID))
		return params, nil, false
	}
	return params, client, true
}

func (p quoteParams) request() quotes.QuoteRequest {
	return quotes.QuoteRequest{
		MakerToken:   p.MakerToken,
		TakerToken:   p.TakerToken,
		Amount:       p.Amount,
		Side:         quotes.Side(p.Side),
		TakerAddress: p.TakerAddress,
		TxOrigin:     p.TxOrigin,
	}
}

func (s *Server) indicativeQuotes(c *gin.Context) {
	params, client, ok := s.bindQuoteParams(c)
	if !ok {
		return
	}
	result := client.RequestIndicativeQuotes(c.Request.Context(), params.request())
	c.JSON(http.StatusOK, gin.H{"quotes": result})
}

func (s *Server) firmQuotes(c *gin.Context) {
	params, client, ok := s.bindQuoteParams(c)
	if !ok {
		return
	}
	result := client.RequestFirmQuotes(c.Request.Context(), params.request())
	c.JSON(http.StatusOK, gin.H{"quotes": result})
}

type priceParams struct {
	ChainID  int64  `form:"chainId" binding:"required"`
	Address  string `form:"address" binding:"required"`
	Decimals int32  `form:"decimals" binding:"min=0,max=36"`
}

// tokenPrices returns the cached USD price of one token per base unit. A
// token the feed cannot price comes back with a null price, not an error.
func (s *Server) tokenPrices(c *gin.Context) {
	var params priceParams
	if err := c.ShouldBindQuery(&params); err != nil {
		abortWithProblem(c, errors.Invalid("%s", err.Error()))
		return
	}
	result := s.priceSource.BatchFetchPrice(c.Request.Context(), []prices.PriceRequest{{
		ChainID:       params.ChainID,
		TokenAddress:  params.Address,
		TokenDecimals: params.Decimals,
	}})
	c.JSON(http.StatusOK, gin.H{
		"chainId": params.ChainID,
		"address": params.Address,
		"price":   result[0],
	})
}

type balanceParams struct {
	ChainID int64    `form:"chainId" binding:"required"`
	Owners  []string `form:"owner" binding:"required"`
	Tokens  []string `form:"token" binding:"required"`
}

// makerBalances serves the cached min(balance, allowance) for owner/token
// pairs, given as parallel repeated owner and token query parameters.
func (s *Server) makerBalances(c *gin.Context) {
	var params balanceParams
	if err := c.ShouldBindQuery(&params); err != nil {
		abortWithProblem(c, errors.Invalid("%s", err.Error()))
		return
	}
	if len(params.Owners) != len(params.Tokens) {
		abortWithProblem(c, errors.Invalid(
			"owner and token counts differ: %d != %d", len(params.Owners), len(params.Tokens)))
		return
	}
	backend, ok := s.balanceChains[params.ChainID]
	if !ok {
		abortWithProblem(c, errors.Invalid("unsupported chain %d", params.ChainID))
		return
	}

	owners := make([]rfq.ERC20Owner, len(params.Owners))
	for i := range params.Owners {
		if !common.IsHexAddress(params.Owners[i]) || !common.IsHexAddress(params.Tokens[i]) {
			abortWithProblem(c, errors.Invalid("malformed address at index %d", i))
			return
		}
		owners[i] = rfq.ERC20Owner{
			Owner: common.HexToAddress(params.Owners[i]),
			Token: common.HexToAddress(params.Tokens[i]),
		}
	}

	balances, err := backend.Source.GetMinOfBalancesOrAllowances(
		c.Request.Context(), params.ChainID, owners, backend.Spender)
	if err != nil {
		s.logger.Error("Balance lookup failed",
			zap.Int64("chain_id", params.ChainID), zap.Error(err))
		abortWithProblem(c, errors.Upstream("balance lookup failed"))
		return
	}

	rendered := make([]string, len(balances))
	for i, balance := range balances {
		rendered[i] = balance.String()
	}
	c.JSON(http.StatusOK, gin.H{"chainId": params.ChainID, "balances": rendered})
}
