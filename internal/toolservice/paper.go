package toolservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ai-trader-go/internal/ledger"
	"ai-trader-go/internal/models"
	"ai-trader-go/internal/upbit"
)

// ErrInvalidOrder marks order requests rejected before execution.
var ErrInvalidOrder = errors.New("invalid order")

// OrderRequest describes one simulated order. For market buys Amount is the
// quote currency to spend; for everything else it is the base quantity.
type OrderRequest struct {
	Signature   string  `json:"signature"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Amount      float64 `json:"amount"`
	Price       float64 `json:"price,omitempty"`
	MarketOrder bool    `json:"market_order"`
}

// OrderResult is the simulated fill returned to the caller.
type OrderResult struct {
	OrderID     string  `json:"order_id"`
	Market      string  `json:"market"`
	Side        string  `json:"side"`
	FillPrice   float64 `json:"fill_price"`
	Quantity    float64 `json:"quantity"`
	QuoteAmount float64 `json:"quote_amount"`
	Fee         float64 `json:"fee"`
	FeeRate     float64 `json:"fee_rate"`
	MarketOrder bool    `json:"market_order"`
	Timestamp   int64   `json:"timestamp"`
}

// PaperBroker prices orders against live tickers and records every simulated
// fill in the audit database. It holds no positions; callers account for
// their own balances.
type PaperBroker struct {
	db      *gorm.DB
	client  upbit.ClientInterface
	logger  *zap.Logger
	feeRate float64
	quote   string
}

// NewPaperBroker creates a broker charging the given fee rate on every fill.
func NewPaperBroker(db *gorm.DB, client upbit.ClientInterface, feeRate float64, quote string, logger *zap.Logger) *PaperBroker {
	return &PaperBroker{
		db:      db,
		client:  client,
		logger:  logger.Named("paper-broker"),
		feeRate: feeRate,
		quote:   quote,
	}
}

func (b *PaperBroker) validate(req OrderRequest) error {
	side := strings.ToLower(strings.TrimSpace(req.Side))
	if side != "buy" && side != "sell" {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, req.Side)
	}
	if !ledger.ValidSignature(req.Signature) {
		return fmt.Errorf("%w: bad signature %q", ErrInvalidOrder, req.Signature)
	}
	if strings.TrimSpace(req.Symbol) == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	if req.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %v", ErrInvalidOrder, req.Amount)
	}
	if !req.MarketOrder && req.Price <= 0 {
		return fmt.Errorf("%w: limit orders need a positive price", ErrInvalidOrder)
	}
	return nil
}

// Execute fills one order at the current ticker price (market orders) or the
// requested price (limit orders) and persists the fill.
func (b *PaperBroker) Execute(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := b.validate(req); err != nil {
		return nil, err
	}
	side := strings.ToLower(strings.TrimSpace(req.Side))
	market := upbit.NormalizeMarket(req.Symbol, b.quote)

	fillPrice := req.Price
	if req.MarketOrder {
		tickers, err := b.client.GetTickers(ctx, []string{market})
		if err != nil {
			upstreamErrorsTotal.Inc()
			return nil, fmt.Errorf("fetch fill price for %s: %w", market, err)
		}
		if len(tickers) == 0 || tickers[0].TradePrice <= 0 {
			return nil, fmt.Errorf("no usable fill price for market %s", market)
		}
		fillPrice = tickers[0].TradePrice
	}

	// Market buys spend a quote amount; everything else trades a base
	// quantity at the fill price.
	var quantity, gross float64
	if side == "buy" && req.MarketOrder {
		gross = req.Amount
		quantity = req.Amount / fillPrice
	} else {
		quantity = req.Amount
		gross = quantity * fillPrice
	}
	fee := gross * b.feeRate

	result := &OrderResult{
		OrderID:     uuid.NewString(),
		Market:      market,
		Side:        side,
		FillPrice:   fillPrice,
		Quantity:    quantity,
		QuoteAmount: gross,
		Fee:         fee,
		FeeRate:     b.feeRate,
		MarketOrder: req.MarketOrder,
		Timestamp:   time.Now().UnixMilli(),
	}

	order := models.Order{
		OrderID:     result.OrderID,
		Signature:   req.Signature,
		Market:      market,
		Side:        side,
		FillPrice:   fillPrice,
		Quantity:    quantity,
		QuoteAmount: gross,
		Fee:         fee,
		FeeRate:     b.feeRate,
		MarketOrder: req.MarketOrder,
		Timestamp:   result.Timestamp,
	}
	if err := b.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, fmt.Errorf("persist order %s: %w", result.OrderID, err)
	}

	ordersTotal.WithLabelValues(side).Inc()
	b.logger.Info("Simulated order filled",
		zap.String("order_id", result.OrderID),
		zap.String("signature", req.Signature),
		zap.String("market", market),
		zap.String("side", side),
		zap.Float64("fill_price", fillPrice),
		zap.Float64("quantity", quantity),
		zap.Float64("fee", fee),
	)
	return result, nil
}

// Orders returns recorded fills, most recent first, optionally filtered by
// signature.
func (b *PaperBroker) Orders(ctx context.Context, signature string, limit int) ([]models.Order, error) {
	q := b.db.WithContext(ctx).Order("timestamp desc")
	if signature != "" {
		q = q.Where("signature = ?", signature)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var orders []models.Order
	if err := q.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	return orders, nil
}
