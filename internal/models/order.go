package models

import "gorm.io/gorm"

// Order is the audit record for one simulated fill.
type Order struct {
	gorm.Model
	OrderID     string  `gorm:"uniqueIndex;size:36" json:"order_id"`
	Signature   string  `gorm:"index" json:"signature"`
	Market      string  `gorm:"index" json:"market"`
	Side        string  `json:"side"` // "buy" or "sell"
	FillPrice   float64 `json:"fill_price"`
	Quantity    float64 `json:"quantity"`
	QuoteAmount float64 `json:"quote_amount"`
	Fee         float64 `json:"fee"`
	FeeRate     float64 `json:"fee_rate"`
	MarketOrder bool    `json:"market_order"`
	Timestamp   int64   `json:"timestamp"`
}
