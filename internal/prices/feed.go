package prices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
)

// FeedClient fetches the human-readable USD price of one token from the
// upstream price feed.
type FeedClient interface {
	FetchPrice(ctx context.Context, chainID int64, tokenAddress string) (decimal.Decimal, error)
}

// HTTPFeedClient talks to a GraphQL price feed (getPrice by address and
// network). Every call carries the client timeout; a timed-out or failed call
// surfaces as an error for the caller to degrade per item.
type HTTPFeedClient struct {
	httpClient *http.Client
	url        string
	apiKey     string
}

// NewHTTPFeedClient creates a feed client. The http.Client's Timeout bounds
// every upstream call.
func NewHTTPFeedClient(httpClient *http.Client, url, apiKey string) *HTTPFeedClient {
	return &HTTPFeedClient{httpClient: httpClient, url: url, apiKey: apiKey}
}

type getPriceResponse struct {
	Data struct {
		GetPrice *struct {
			PriceUSD *decimal.Decimal `json:"priceUsd"`
		} `json:"getPrice"`
	} `json:"data"`
}

// FetchPrice implements FeedClient.
func (c *HTTPFeedClient) FetchPrice(ctx context.Context, chainID int64, tokenAddress string) (decimal.Decimal, error) {
	query := fmt.Sprintf(
		`query getPrice { getPrice(address: %q, networkId: %d) { priceUsd } }`,
		tokenAddress, chainID,
	)
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to encode price query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build price request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price feed returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read price response: %w", err)
	}
	var parsed getPriceResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("malformed price response: %w", err)
	}
	if parsed.Data.GetPrice == nil || parsed.Data.GetPrice.PriceUSD == nil {
		return decimal.Zero, fmt.Errorf("price feed returned no price for token %s on chain %d",
			tokenAddress, chainID)
	}
	return *parsed.Data.GetPrice.PriceUSD, nil
}
