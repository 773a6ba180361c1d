package upbit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"ai-trader-go/internal/config"
)

const (
	maxRetries     = 3
	requestTimeout = 10 * time.Second
	maxCandleCount = 200
)

// Ticker is a current-price snapshot for one market.
type Ticker struct {
	Market           string  `json:"market"`
	TradePrice       float64 `json:"trade_price"`
	SignedChangeRate float64 `json:"signed_change_rate"`
	AccTradePrice24h float64 `json:"acc_trade_price_24h"`
	Timestamp        int64   `json:"timestamp"`
}

// DayCandle is one daily OHLCV bar. Timestamps are KST calendar days.
type DayCandle struct {
	Market               string  `json:"market"`
	CandleDateTimeKST    string  `json:"candle_date_time_kst"`
	OpeningPrice         float64 `json:"opening_price"`
	HighPrice            float64 `json:"high_price"`
	LowPrice             float64 `json:"low_price"`
	TradePrice           float64 `json:"trade_price"`
	CandleAccTradeVolume float64 `json:"candle_acc_trade_volume"`
}

// MinuteCandle is one intraday OHLCV bar.
type MinuteCandle struct {
	Market               string  `json:"market"`
	CandleDateTimeKST    string  `json:"candle_date_time_kst"`
	OpeningPrice         float64 `json:"opening_price"`
	HighPrice            float64 `json:"high_price"`
	LowPrice             float64 `json:"low_price"`
	TradePrice           float64 `json:"trade_price"`
	CandleAccTradeVolume float64 `json:"candle_acc_trade_volume"`
	Unit                 int     `json:"unit"`
}

// Market is one tradable listing.
type Market struct {
	Market      string `json:"market"`
	KoreanName  string `json:"korean_name"`
	EnglishName string `json:"english_name"`
}

// APIError is a non-2xx response from the Upbit API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upbit api error: status %d: %s", e.StatusCode, e.Body)
}

// ClientInterface defines the Upbit public-data operations used by the rest
// of the system.
type ClientInterface interface {
	GetTickers(ctx context.Context, markets []string) ([]Ticker, error)
	GetDayCandles(ctx context.Context, market string, count int) ([]DayCandle, error)
	GetMinuteCandles(ctx context.Context, market string, unit, count int, to string) ([]MinuteCandle, error)
	GetMarkets(ctx context.Context) ([]Market, error)
}

// Client is a rate-limited Upbit REST client with retries and a circuit
// breaker around the upstream.
type Client struct {
	client      *resty.Client
	logger      *zap.Logger
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	backoffUnit time.Duration
}

var _ ClientInterface = (*Client)(nil)

// NewClient creates a client for the Upbit public API.
func NewClient(cfg *config.Upbit, logger *zap.Logger) *Client {
	log := logger.Named("upbit")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "upbit",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		client: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(requestTimeout).
			SetHeader("Accept", "application/json"),
		logger:      log,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		breaker:     breaker,
		backoffUnit: time.Second,
	}
}

// NormalizeMarket renders a bare symbol as a quote-prefixed market code.
// "BTC" becomes "KRW-BTC"; codes that already carry a quote pass through.
func NormalizeMarket(symbol, quote string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" || strings.Contains(s, "-") {
		return s
	}
	return strings.ToUpper(quote) + "-" + s
}

// GetTickers fetches current-price snapshots for the given markets.
func (c *Client) GetTickers(ctx context.Context, markets []string) ([]Ticker, error) {
	if len(markets) == 0 {
		return nil, nil
	}
	params := map[string]string{"markets": strings.Join(markets, ",")}

	var tickers []Ticker
	if err := c.doRequest(ctx, "/v1/ticker", params, &tickers); err != nil {
		return nil, err
	}
	return tickers, nil
}

// GetDayCandles fetches up to count daily candles for a market, newest first.
func (c *Client) GetDayCandles(ctx context.Context, market string, count int) ([]DayCandle, error) {
	if count <= 0 || count > maxCandleCount {
		count = maxCandleCount
	}
	params := map[string]string{
		"market": market,
		"count":  strconv.Itoa(count),
	}

	var candles []DayCandle
	if err := c.doRequest(ctx, "/v1/candles/days", params, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// GetMinuteCandles fetches up to count unit-minute candles for a market,
// newest first. A non-empty to bounds the window at that KST timestamp.
func (c *Client) GetMinuteCandles(ctx context.Context, market string, unit, count int, to string) ([]MinuteCandle, error) {
	if count <= 0 || count > maxCandleCount {
		count = maxCandleCount
	}
	params := map[string]string{
		"market": market,
		"count":  strconv.Itoa(count),
	}
	if to != "" {
		params["to"] = to
	}

	var candles []MinuteCandle
	if err := c.doRequest(ctx, fmt.Sprintf("/v1/candles/minutes/%d", unit), params, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// GetMarkets fetches every tradable listing on the exchange.
func (c *Client) GetMarkets(ctx context.Context) ([]Market, error) {
	params := map[string]string{"isDetails": "false"}

	var markets []Market
	if err := c.doRequest(ctx, "/v1/market/all", params, &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

// doRequest performs a GET with rate limiting, retries with exponential
// backoff on 429 and 5xx responses, and circuit breaking across requests.
// Other 4xx responses fail immediately.
func (c *Client) doRequest(ctx context.Context, path string, params map[string]string, result interface{}) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		res, err := c.breaker.Execute(func() (interface{}, error) {
			resp, err := c.client.R().
				SetContext(ctx).
				SetQueryParams(params).
				SetResult(result).
				Get(path)
			if err != nil {
				return nil, err
			}
			if resp.IsError() {
				return resp, &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
			}
			return resp, nil
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("upbit request %s: %w", path, err)
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode != 429 && apiErr.StatusCode < 500 {
				return fmt.Errorf("upbit request %s: %w", path, err)
			}
		}

		backoff := time.Duration(math.Pow(2, float64(i))) * c.backoffUnit
		if resp, ok := res.(*resty.Response); ok && resp != nil {
			if after, parseErr := strconv.Atoi(resp.Header().Get("Retry-After")); parseErr == nil && after > 0 {
				backoff = time.Duration(after) * time.Second
			}
		}
		c.logger.Warn("Upbit request failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", i+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("upbit request %s failed after %d attempts: %w", path, maxRetries, lastErr)
}
