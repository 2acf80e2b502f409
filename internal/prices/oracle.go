// Package prices implements the per-token USD price cache in front of the
// upstream price feed, with deliberate negative caching: a failed fetch is
// cached as a nil price for the same TTL as a success, so a persistently
// failing token costs at most one upstream call per TTL window.
package prices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/internal/cache"
	"github.com/quotelane/rfq-gateway/pkg/metrics"
)

// PriceRequest identifies one token whose USD price is wanted.
type PriceRequest struct {
	ChainID       int64
	TokenAddress  string
	TokenDecimals int32
}

type priceKey struct {
	chainID int64
	token   string
}

// Oracle caches USD token prices scaled to one base unit of the token
// (human price multiplied by 10^-decimals). A nil price means the feed could
// not produce one inside the current TTL window.
type Oracle struct {
	feed   FeedClient
	cache  *cache.Cache[priceKey, *decimal.Decimal]
	logger *zap.Logger
}

// OracleOption configures an Oracle.
type OracleOption func(*oracleOptions)

type oracleOptions struct {
	clock func() time.Time
}

// WithClock overrides the oracle cache's time source. Used by tests.
func WithClock(now func() time.Time) OracleOption {
	return func(o *oracleOptions) { o.clock = now }
}

// NewOracle creates a price oracle with the given cache TTL.
func NewOracle(feed FeedClient, ttl time.Duration, logger *zap.Logger, opts ...OracleOption) *Oracle {
	options := oracleOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&options)
	}
	return &Oracle{
		feed:   feed,
		cache:  cache.New(ttl, cache.WithClock[priceKey, *decimal.Decimal](options.clock)),
		logger: logger.Named("price-oracle"),
	}
}

// BatchFetchPrice returns one result per request, in request order. A nil
// entry means no price was available; one request's failure never affects
// another's.
func (o *Oracle) BatchFetchPrice(ctx context.Context, requests []PriceRequest) []*decimal.Decimal {
	results := make([]*decimal.Decimal, len(requests))
	for i, request := range requests {
		results[i] = o.fetchOne(ctx, request)
	}
	return results
}

func (o *Oracle) fetchOne(ctx context.Context, request PriceRequest) *decimal.Decimal {
	key := priceKey{chainID: request.ChainID, token: strings.ToLower(request.TokenAddress)}

	if price, ok := o.cache.Get(key); ok {
		metrics.PriceCacheHits.Inc()
		return price
	}
	metrics.PriceCacheMisses.Inc()

	priceUSD, err := o.feed.FetchPrice(ctx, request.ChainID, request.TokenAddress)
	if err != nil {
		metrics.PriceFetchFailed.WithLabelValues(fmt.Sprintf("%d", request.ChainID)).Inc()
		o.logger.Warn("Failed to fetch token price",
			zap.Int64("chain_id", request.ChainID),
			zap.String("token", request.TokenAddress),
			zap.Error(err))
		// Negative cache: the nil result occupies a full TTL window.
		o.cache.Set(key, nil)
		return nil
	}

	scaled := priceUSD.Shift(-request.TokenDecimals)
	o.cache.Set(key, &scaled)
	return &scaled
}
