package agent

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"ai-trader-go/internal/ledger"
	"ai-trader-go/internal/upbit"
)

// defaultCashFraction is spent per buy when the experiment sets no fraction.
const defaultCashFraction = 0.25

// MomentumStrategy sells holdings whose 24h momentum turned negative and
// rotates a fraction of cash into the strongest gainer not held yet.
type MomentumStrategy struct{}

func (s *MomentumStrategy) Name() string {
	return "momentum"
}

func (s *MomentumStrategy) Initialize(ctx StrategyContext) error {
	if len(ctx.Tickers) == 0 {
		ctx.Logger.Warn("No tickers available, momentum strategy will idle")
	}
	return nil
}

func (s *MomentumStrategy) Decide(ctx StrategyContext) ([]Intent, string, error) {
	l := ctx.Logger.With(zap.String("strategy", s.Name()))

	tickerBySymbol := make(map[string]upbit.Ticker, len(ctx.Tickers))
	for _, t := range ctx.Tickers {
		tickerBySymbol[BaseSymbol(t.Market)] = t
	}

	var intents []Intent
	var notes []string

	// 1. Sell every holding whose 24h change went negative.
	held := make([]string, 0, len(ctx.State.Positions))
	for symbol := range ctx.State.Positions {
		if symbol != ledger.CashSymbol {
			held = append(held, symbol)
		}
	}
	sort.Strings(held)

	for _, symbol := range held {
		t, ok := tickerBySymbol[symbol]
		if !ok {
			l.Warn("No ticker for held symbol", zap.String("symbol", symbol))
			continue
		}
		if t.SignedChangeRate >= 0 {
			continue
		}
		quantity := ClampQuantity(ctx.State.Positions[symbol])
		if quantity <= 0 || quantity*t.TradePrice < MinOrderKRW {
			continue
		}
		intents = append(intents, Intent{
			Side:        "sell",
			Symbol:      symbol,
			Amount:      quantity,
			MarketOrder: true,
		})
		notes = append(notes, fmt.Sprintf("sell %s: 24h change %.2f%%", symbol, t.SignedChangeRate*100))
	}

	// 2. Buy the strongest gainer not already held.
	var best *upbit.Ticker
	for i := range ctx.Tickers {
		t := &ctx.Tickers[i]
		symbol := BaseSymbol(t.Market)
		if _, holding := ctx.State.Positions[symbol]; holding {
			continue
		}
		if t.SignedChangeRate <= 0 || t.TradePrice <= 0 {
			continue
		}
		if best == nil || t.SignedChangeRate > best.SignedChangeRate {
			best = t
		}
	}
	if best != nil {
		fraction := ctx.Settings.CashFraction
		if fraction <= 0 || fraction > 1 {
			fraction = defaultCashFraction
		}
		budget := math.Floor(ctx.State.Cash() * fraction)
		if budget >= MinOrderKRW {
			symbol := BaseSymbol(best.Market)
			intents = append(intents, Intent{
				Side:        "buy",
				Symbol:      symbol,
				Amount:      budget,
				MarketOrder: true,
			})
			notes = append(notes, fmt.Sprintf("buy %s: best gainer at %.2f%%, spending %.0f",
				symbol, best.SignedChangeRate*100, budget))
		}
	}

	if len(notes) == 0 {
		return nil, "hold: no momentum signals this cycle", nil
	}
	return intents, strings.Join(notes, "; "), nil
}
