// Package quotes fans price and quote requests out to maker endpoints and
// keeps the fan-out client consistent with the maker registry.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quotelane/rfq-gateway/internal/rfq"
	"github.com/quotelane/rfq-gateway/pkg/metrics"
)

// Side is the direction of a quote request from the taker's perspective.
type Side string

const (
	SideSell Side = "sell"
	SideBuy  Side = "buy"
)

// QuoteRequest describes one price or quote solicitation.
type QuoteRequest struct {
	MakerToken   string
	TakerToken   string
	Amount       decimal.Decimal
	Side         Side
	TakerAddress string
	TxOrigin     string
}

// IndicativeQuote is a non-binding price estimate from one maker.
type IndicativeQuote struct {
	MakerURI    string          `json:"makerUri"`
	MakerToken  string          `json:"makerToken"`
	TakerToken  string          `json:"takerToken"`
	MakerAmount decimal.Decimal `json:"makerAmount"`
	TakerAmount decimal.Decimal `json:"takerAmount"`
	Expiry      int64           `json:"expiry"`
}

// FirmQuote is a binding, signable commitment from one maker.
type FirmQuote struct {
	MakerURI    string          `json:"makerUri"`
	Maker       string          `json:"maker"`
	MakerToken  string          `json:"makerToken"`
	TakerToken  string          `json:"takerToken"`
	MakerAmount decimal.Decimal `json:"makerAmount"`
	TakerAmount decimal.Decimal `json:"takerAmount"`
	Expiry      int64           `json:"expiry"`
	Signature   string          `json:"signature"`
}

// Client fans requests out to the maker endpoints of one asset offering. A
// Client is immutable after construction; registry changes are handled by
// building a new Client (see RefreshingClient).
type Client struct {
	offering   rfq.AssetOffering
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a fan-out client for offering. httpClient's Timeout
// bounds each per-maker call.
func NewClient(offering rfq.AssetOffering, httpClient *http.Client, logger *zap.Logger) *Client {
	return &Client{
		offering:   offering,
		httpClient: httpClient,
		logger:     logger.Named("quote-client"),
	}
}

// makerURIsForPair returns the endpoints whose offering contains the pair.
func (c *Client) makerURIsForPair(makerToken, takerToken string) []string {
	key := rfq.PairKey(makerToken, takerToken)
	var uris []string
	for uri, pairs := range c.offering {
		for _, pair := range pairs {
			if pair.Key() == key {
				uris = append(uris, uri)
				break
			}
		}
	}
	return uris
}

// RequestIndicativeQuotes solicits non-binding prices from every maker
// quoting the pair. Maker failures are skipped, never propagated: the result
// holds one entry per responsive maker.
func (c *Client) RequestIndicativeQuotes(ctx context.Context, request QuoteRequest) []IndicativeQuote {
	return fanOut[IndicativeQuote](c, ctx, "/price", "indicative", request)
}

// RequestFirmQuotes solicits signable quotes from every maker quoting the
// pair, with the same per-maker failure isolation.
func (c *Client) RequestFirmQuotes(ctx context.Context, request QuoteRequest) []FirmQuote {
	return fanOut[FirmQuote](c, ctx, "/quote", "firm", request)
}

func fanOut[T any](c *Client, ctx context.Context, path, kind string, request QuoteRequest) []T {
	uris := c.makerURIsForPair(request.MakerToken, request.TakerToken)
	if len(uris) == 0 {
		return nil
	}

	results := make([]*T, len(uris))
	var wg sync.WaitGroup
	for i, uri := range uris {
		wg.Add(1)
		go func(i int, uri string) {
			defer wg.Done()

			quote, err := fetchQuote[T](c, ctx, uri, path, request)
			if err != nil {
				metrics.QuoteRequests.WithLabelValues(kind, "failed").Inc()
				c.logger.Warn("Maker quote request failed",
					zap.String("maker_uri", uri),
					zap.String("kind", kind),
					zap.Error(err))
				return
			}
			metrics.QuoteRequests.WithLabelValues(kind, "ok").Inc()
			results[i] = quote
		}(i, uri)
	}
	wg.Wait()

	quotes := make([]T, 0, len(uris))
	for _, result := range results {
		if result != nil {
			quotes = append(quotes, *result)
		}
	}
	return quotes
}

func fetchQuote[T any](c *Client, ctx context.Context, makerURI, path string, request QuoteRequest) (*T, error) {
	endpoint, err := url.JoinPath(makerURI, path)
	if err != nil {
		return nil, fmt.Errorf("invalid maker URI %q: %w", makerURI, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}
	query := req.URL.Query()
	query.Set("makerToken", request.MakerToken)
	query.Set("takerToken", request.TakerToken)
	query.Set("amount", request.Amount.String())
	query.Set("side", string(request.Side))
	query.Set("takerAddress", request.TakerAddress)
	if request.TxOrigin != "" {
		query.Set("txOrigin", request.TxOrigin)
	}
	req.URL.RawQuery = query.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("maker returned status %d", resp.StatusCode)
	}

	var quote T
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("malformed quote response: %w", err)
	}
	// The responding endpoint is authoritative for attribution, not
	// whatever the maker put in the body.
	switch q := any(&quote).(type) {
	case *IndicativeQuote:
		q.MakerURI = makerURI
	case *FirmQuote:
		q.MakerURI = makerURI
	}
	return &quote, nil
}

// defaultHTTPClient builds the per-maker timeout client used when callers do
// not supply one.
func defaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
