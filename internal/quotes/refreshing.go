package quotes

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/internal/rfq"
)

// OfferingSource is the registry surface the refreshing client depends on:
// a way to read the current offering and a change subscription.
type OfferingSource interface {
	OfferingForOrderType(workflow rfq.Workflow, orderType rfq.OrderType) rfq.AssetOffering
	Subscribe(fn func())
}

// RefreshingClient keeps exactly one live fan-out Client built from the
// registry's current offering and swaps in a replacement whenever the
// registry publishes a change. In-flight requests hold the old client and
// finish against a single consistent offering; no request ever blocks on a
// swap or observes a mix of two offerings.
type RefreshingClient struct {
	source    OfferingSource
	workflow  rfq.Workflow
	orderType rfq.OrderType

	httpClient *http.Client
	logger     *zap.Logger
	current    atomic.Pointer[Client]
}

// NewRefreshingClient builds the initial client from the source's current
// offering and subscribes to rebuild on every published change.
func NewRefreshingClient(
	source OfferingSource,
	workflow rfq.Workflow,
	orderType rfq.OrderType,
	requestTimeout time.Duration,
	logger *zap.Logger,
) *RefreshingClient {
	r := &RefreshingClient{
		source:     source,
		workflow:   workflow,
		orderType:  orderType,
		httpClient: defaultHTTPClient(requestTimeout),
		logger:     logger.Named("refreshing-quote-client"),
	}
	r.rebuild()
	source.Subscribe(r.rebuild)
	return r
}

// rebuild constructs a fresh client from the current offering and swaps it
// in atomically. Runs on the registry's refresh goroutine after the new
// snapshot is visible.
func (r *RefreshingClient) rebuild() {
	offering := r.source.OfferingForOrderType(r.workflow, r.orderType)
	next := NewClient(offering, r.httpClient, r.logger)
	r.current.Swap(next)
	r.logger.Debug("Swapped quote client", zap.Int("maker_endpoints", len(offering)))
}

// RequestIndicativeQuotes passes through to the live client.
func (r *RefreshingClient) RequestIndicativeQuotes(ctx context.Context, request QuoteRequest) []IndicativeQuote {
	return r.current.Load().RequestIndicativeQuotes(ctx, request)
}

// RequestFirmQuotes passes through to the live client.
func (r *RefreshingClient) RequestFirmQuotes(ctx context.Context, request QuoteRequest) []FirmQuote {
	return r.current.Load().RequestFirmQuotes(ctx, request)
}
