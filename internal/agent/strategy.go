package agent

import (
	"fmt"

	"go.uber.org/zap"

	"ai-trader-go/internal/config"
	"ai-trader-go/internal/ledger"
	"ai-trader-go/internal/upbit"
)

// Intent is one order a strategy wants executed. For market buys Amount is
// the quote currency to spend; for everything else it is the base quantity.
type Intent struct {
	Side        string
	Symbol      string
	Amount      float64
	Price       float64
	MarketOrder bool
}

// StrategyContext provides a strategy with everything one decision needs.
type StrategyContext struct {
	Logger   *zap.Logger
	Settings config.AgentConfig
	Quote    string
	State    ledger.State
	Tickers  []upbit.Ticker
}

// Strategy defines the interface for a trading strategy.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Initialize gives the strategy a chance to perform setup tasks.
	Initialize(ctx StrategyContext) error

	// Decide produces the orders for one cycle plus a free-form note for
	// the decision log.
	Decide(ctx StrategyContext) ([]Intent, string, error)
}

// NewStrategy returns the strategy registered under name. An empty name
// selects the momentum strategy.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", "momentum":
		return &MomentumStrategy{}, nil
	case "hold":
		return &HoldStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
