package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ai-trader-go/internal/config"
	"ai-trader-go/internal/ledger"
	"ai-trader-go/internal/upbit"
)

func momentumCtx(state ledger.State, tickers []upbit.Ticker, fraction float64) StrategyContext {
	return StrategyContext{
		Logger:   zap.NewNop(),
		Settings: config.AgentConfig{Strategy: "momentum", CashFraction: fraction},
		Quote:    "KRW",
		State:    state,
		Tickers:  tickers,
	}
}

func TestMomentum_BuysBestGainer(t *testing.T) {
	state := newState(10000000)
	tickers := []upbit.Ticker{
		{Market: "KRW-BTC", TradePrice: 50000000, SignedChangeRate: 0.02},
		{Market: "KRW-ETH", TradePrice: 3000000, SignedChangeRate: 0.05},
		{Market: "KRW-XRP", TradePrice: 800, SignedChangeRate: -0.01},
	}

	intents, reasoning, err := (&MomentumStrategy{}).Decide(momentumCtx(state, tickers, 0.25))

	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, "buy", intents[0].Side)
	assert.Equal(t, "ETH", intents[0].Symbol)
	assert.Equal(t, 2500000.0, intents[0].Amount)
	assert.True(t, intents[0].MarketOrder)
	assert.Contains(t, reasoning, "buy ETH")
}

func TestMomentum_SellsLosingHolding(t *testing.T) {
	state := newState(1000)
	state.Positions["BTC"] = 0.01
	state.AvgCosts["BTC"] = 50000000
	tickers := []upbit.Ticker{
		{Market: "KRW-BTC", TradePrice: 48000000, SignedChangeRate: -0.04},
	}

	intents, reasoning, err := (&MomentumStrategy{}).Decide(momentumCtx(state, tickers, 0.25))

	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, "sell", intents[0].Side)
	assert.Equal(t, "BTC", intents[0].Symbol)
	assert.Equal(t, 0.01, intents[0].Amount)
	assert.True(t, intents[0].MarketOrder)
	assert.Contains(t, reasoning, "sell BTC")
}

func TestMomentum_KeepsRisingHolding(t *testing.T) {
	state := newState(1000)
	state.Positions["BTC"] = 0.01
	state.AvgCosts["BTC"] = 50000000
	tickers := []upbit.Ticker{
		{Market: "KRW-BTC", TradePrice: 52000000, SignedChangeRate: 0.03},
	}

	intents, reasoning, err := (&MomentumStrategy{}).Decide(momentumCtx(state, tickers, 0.25))

	require.NoError(t, err)
	assert.Empty(t, intents)
	assert.Contains(t, reasoning, "hold")
}

func TestMomentum_SkipsDustSell(t *testing.T) {
	state := newState(0)
	state.Positions["XRP"] = 1
	state.AvgCosts["XRP"] = 900
	tickers := []upbit.Ticker{
		{Market: "KRW-XRP", TradePrice: 800, SignedChangeRate: -0.05},
	}

	intents, _, err := (&MomentumStrategy{}).Decide(momentumCtx(state, tickers, 0.25))

	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestMomentum_SkipsBuyBelowMinimum(t *testing.T) {
	state := newState(10000)
	tickers := []upbit.Ticker{
		{Market: "KRW-ETH", TradePrice: 3000000, SignedChangeRate: 0.05},
	}

	intents, reasoning, err := (&MomentumStrategy{}).Decide(momentumCtx(state, tickers, 0.25))

	require.NoError(t, err)
	assert.Empty(t, intents)
	assert.Contains(t, reasoning, "hold")
}

func TestMomentum_DefaultsCashFraction(t *testing.T) {
	state := newState(10000000)
	tickers := []upbit.Ticker{
		{Market: "KRW-ETH", TradePrice: 3000000, SignedChangeRate: 0.05},
	}

	intents, _, err := (&MomentumStrategy{}).Decide(momentumCtx(state, tickers, 0))

	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, 2500000.0, intents[0].Amount)
}

func TestHoldStrategy_NeverTrades(t *testing.T) {
	state := newState(10000000)
	tickers := []upbit.Ticker{
		{Market: "KRW-ETH", TradePrice: 3000000, SignedChangeRate: 0.05},
	}

	intents, reasoning, err := (&HoldStrategy{}).Decide(momentumCtx(state, tickers, 0.25))

	require.NoError(t, err)
	assert.Empty(t, intents)
	assert.Contains(t, reasoning, "hold")
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy("")
	require.NoError(t, err)
	assert.Equal(t, "momentum", s.Name())

	s, err = NewStrategy("momentum")
	require.NoError(t, err)
	assert.Equal(t, "momentum", s.Name())

	s, err = NewStrategy("hold")
	require.NoError(t, err)
	assert.Equal(t, "hold", s.Name())

	_, err = NewStrategy("arbitrage")
	assert.ErrorContains(t, err, "unknown strategy")
}
