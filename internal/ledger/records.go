package ledger

import (
	"strings"
	"time"
)

// TimeLayout is the timestamp format used by every ledger record.
const TimeLayout = "2006-01-02T15:04:05"

// DateLayout is the calendar-day format used for dates and log partitions.
const DateLayout = "2006-01-02"

// CashSymbol is the reserved position key holding the quote-currency balance.
const CashSymbol = "CASH"

// KST is the exchange timezone; all record timestamps are written in it.
var KST = time.FixedZone("KST", 9*60*60)

// Now returns the current time in the exchange timezone.
func Now() time.Time {
	return time.Now().In(KST)
}

// FormatTime renders a timestamp in the ledger record format.
func FormatTime(t time.Time) string {
	return t.In(KST).Format(TimeLayout)
}

// DateOf renders the calendar day of a timestamp.
func DateOf(t time.Time) string {
	return t.In(KST).Format(DateLayout)
}

// TradeAction describes the order that produced a position entry.
type TradeAction struct {
	Action      string  `json:"action"` // "init", "buy" or "sell"
	Symbol      string  `json:"symbol,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	MarketOrder bool    `json:"market_order,omitempty"`
	FillPrice   float64 `json:"fill_price,omitempty"`
	Fee         float64 `json:"fee,omitempty"`
	FeeRate     float64 `json:"fee_rate,omitempty"`
	QuoteSpent  float64 `json:"krw_spent,omitempty"`
	Proceeds    float64 `json:"proceeds_krw,omitempty"`
	Note        string  `json:"note,omitempty"`
}

// Entry is one position ledger record. Each entry carries the full portfolio
// snapshot after the action, so the latest valid entry is the current state.
type Entry struct {
	Date        string             `json:"date"`
	Timestamp   string             `json:"timestamp"`
	ID          int64              `json:"id"`
	Action      *TradeAction       `json:"this_action,omitempty"`
	Positions   map[string]float64 `json:"positions"`
	AvgCosts    map[string]float64 `json:"avg_costs"`
	RealizedPnL float64            `json:"realized_pnl"`
}

// ReasoningRecord is one free-form decision log line, partitioned by day.
type ReasoningRecord struct {
	Timestamp string `json:"timestamp"`
	Model     string `json:"model"`
	Content   string `json:"content"`
}

// MetricsRecord is one per-cycle portfolio metrics line.
type MetricsRecord struct {
	Timestamp   string  `json:"timestamp"`
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	RealizedPnL float64 `json:"realized_pnl"`
	Holdings    int     `json:"holdings"`
}

// State is the portfolio state reconstructed from the ledger. LastID is zero
// when the ledger holds no valid entries yet.
type State struct {
	Positions   map[string]float64
	AvgCosts    map[string]float64
	RealizedPnL float64
	LastID      int64
}

// Cash returns the quote-currency balance.
func (s State) Cash() float64 {
	return s.Positions[CashSymbol]
}

// ValidSignature reports whether a model signature is safe to use as a
// storage directory name.
func ValidSignature(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}
