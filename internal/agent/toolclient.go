package agent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"ai-trader-go/internal/toolservice"
	"ai-trader-go/internal/upbit"
)

// ToolClient is the agent's view of the tool service.
type ToolClient interface {
	Tickers(ctx context.Context, symbols []string) ([]upbit.Ticker, error)
	Markets(ctx context.Context, top int) ([]MarketInfo, error)
	PlaceOrder(ctx context.Context, req toolservice.OrderRequest) (*toolservice.OrderResult, error)
}

// MarketInfo mirrors the tool service's market ranking rows.
type MarketInfo struct {
	Market           string  `json:"market"`
	EnglishName      string  `json:"english_name"`
	TradePrice       float64 `json:"trade_price"`
	AccTradePrice24h float64 `json:"acc_trade_price_24h"`
}

// HTTPToolClient talks to the tool service over its REST API.
type HTTPToolClient struct {
	client *resty.Client
}

var _ ToolClient = (*HTTPToolClient)(nil)

// NewToolClient creates a client against the tool service base URL.
func NewToolClient(baseURL string) *HTTPToolClient {
	return &HTTPToolClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

// Tickers fetches current-price snapshots for the given symbols.
func (c *HTTPToolClient) Tickers(ctx context.Context, symbols []string) ([]upbit.Ticker, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	var tickers []upbit.Ticker
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbols", strings.Join(symbols, ",")).
		SetResult(&tickers).
		Get("/api/ticker")
	if err != nil {
		return nil, fmt.Errorf("could not fetch tickers: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ticker request failed: status %d: %s", resp.StatusCode(), resp.String())
	}
	return tickers, nil
}

// Markets fetches the quote markets ranked by 24h traded value.
func (c *HTTPToolClient) Markets(ctx context.Context, top int) ([]MarketInfo, error) {
	var markets []MarketInfo
	req := c.client.R().SetContext(ctx).SetResult(&markets)
	if top > 0 {
		req.SetQueryParam("top", strconv.Itoa(top))
	}
	resp, err := req.Get("/api/markets")
	if err != nil {
		return nil, fmt.Errorf("could not fetch markets: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("market request failed: status %d: %s", resp.StatusCode(), resp.String())
	}
	return markets, nil
}

// PlaceOrder executes one simulated order through the paper broker.
func (c *HTTPToolClient) PlaceOrder(ctx context.Context, req toolservice.OrderRequest) (*toolservice.OrderResult, error) {
	var result toolservice.OrderResult
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/api/orders")
	if err != nil {
		return nil, fmt.Errorf("could not place order: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("order rejected: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}
