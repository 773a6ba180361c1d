package agent

import (
	"fmt"

	"ai-trader-go/internal/ledger"
	"ai-trader-go/internal/toolservice"
)

const quantityEpsilon = 1e-12

// ApplyBuy debits cash for a buy fill and updates the weighted average cost.
func ApplyBuy(state *ledger.State, symbol string, fill *toolservice.OrderResult) error {
	cost := fill.QuoteAmount + fill.Fee
	cash := state.Positions[ledger.CashSymbol]
	if cost > cash {
		return fmt.Errorf("insufficient cash: need %.2f, have %.2f", cost, cash)
	}

	held := state.Positions[symbol]
	newQty := held + fill.Quantity
	if newQty > 0 {
		state.AvgCosts[symbol] = (state.AvgCosts[symbol]*held + fill.FillPrice*fill.Quantity) / newQty
	}
	state.Positions[symbol] = newQty
	state.Positions[ledger.CashSymbol] = cash - cost
	return nil
}

// ApplySell credits cash for a sell fill and realizes PnL against the average
// cost. Fully closed positions are removed from the portfolio.
func ApplySell(state *ledger.State, symbol string, fill *toolservice.OrderResult) error {
	held := state.Positions[symbol]
	if fill.Quantity > held+quantityEpsilon {
		return fmt.Errorf("insufficient %s: selling %v, hold %v", symbol, fill.Quantity, held)
	}

	state.Positions[ledger.CashSymbol] += fill.QuoteAmount - fill.Fee
	state.RealizedPnL += (fill.FillPrice - state.AvgCosts[symbol]) * fill.Quantity

	remaining := held - fill.Quantity
	if remaining <= quantityEpsilon {
		delete(state.Positions, symbol)
		delete(state.AvgCosts, symbol)
	} else {
		state.Positions[symbol] = remaining
	}
	return nil
}
