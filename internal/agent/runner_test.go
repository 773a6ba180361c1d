package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ai-trader-go/internal/config"
	"ai-trader-go/internal/ledger"
	"ai-trader-go/internal/toolservice"
	"ai-trader-go/internal/upbit"
)

type MockToolClient struct {
	mock.Mock
}

func (m *MockToolClient) Tickers(ctx context.Context, symbols []string) ([]upbit.Ticker, error) {
	args := m.Called(ctx, symbols)
	return args.Get(0).([]upbit.Ticker), args.Error(1)
}

func (m *MockToolClient) Markets(ctx context.Context, top int) ([]MarketInfo, error) {
	args := m.Called(ctx, top)
	return args.Get(0).([]MarketInfo), args.Error(1)
}

func (m *MockToolClient) PlaceOrder(ctx context.Context, req toolservice.OrderRequest) (*toolservice.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(*toolservice.OrderResult), args.Error(1)
}

func runnerSetup(t *testing.T) (config.RunConfig, config.Experiment, *MockToolClient) {
	cfg := config.RunConfig{
		Paths: config.Paths{DataDir: t.TempDir()},
		Tool:  config.Tool{Quote: "KRW", FeeRate: 0.0005},
		Agent: config.Agent{StartCash: 100000000, UseToday: true},
	}
	exp := config.Experiment{
		AgentType: "trading",
		Models: []config.Model{
			{Name: "momentum_v1", BaseModel: "momentum", Signature: "model_a", Enabled: true},
		},
		Agent: config.AgentConfig{
			Strategy:     "momentum",
			Symbols:      []string{"BTC", "ETH"},
			CashFraction: 0.25,
		},
	}
	return cfg, exp, new(MockToolClient)
}

func TestRunner_BuyCycle(t *testing.T) {
	// Arrange
	cfg, exp, tools := runnerSetup(t)
	tickers := []upbit.Ticker{
		{Market: "KRW-BTC", TradePrice: 50000000, SignedChangeRate: 0.02},
		{Market: "KRW-ETH", TradePrice: 3000000, SignedChangeRate: 0.05},
	}
	tools.On("Tickers", mock.Anything, []string{"BTC", "ETH"}).Return(tickers, nil)
	tools.On("PlaceOrder", mock.Anything, toolservice.OrderRequest{
		Signature:   "model_a",
		Symbol:      "ETH",
		Side:        "buy",
		Amount:      25000000,
		MarketOrder: true,
	}).Return(&toolservice.OrderResult{
		OrderID:     "ord-1",
		Market:      "KRW-ETH",
		Side:        "buy",
		FillPrice:   3000000,
		Quantity:    8,
		QuoteAmount: 24000000,
		Fee:         12000,
		FeeRate:     0.0005,
		MarketOrder: true,
	}, nil)
	runner := NewRunner(cfg, exp, tools, zap.NewNop())

	// Act
	err := runner.Run(context.Background())

	// Assert
	require.NoError(t, err)
	tools.AssertExpectations(t)

	store := ledger.NewStore(cfg.Paths.DataDir, "model_a")
	state, err := store.State()
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.LastID)
	assert.InDelta(t, 75988000.0, state.Cash(), 1e-6)
	assert.Equal(t, 8.0, state.Positions["ETH"])
	assert.Equal(t, 3000000.0, state.AvgCosts["ETH"])

	today := ledger.DateOf(ledger.Now())
	reasoning, err := store.Reasoning(today)
	require.NoError(t, err)
	require.Len(t, reasoning, 1)
	assert.Equal(t, "momentum_v1", reasoning[0].Model)
	assert.Contains(t, reasoning[0].Content, "buy ETH")

	metrics, err := store.Metrics()
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.InDelta(t, 99988000.0, metrics[0].Equity, 1e-6)
	assert.Equal(t, 1, metrics[0].Holdings)
}

func TestRunner_OrderFailureKeepsCycleAlive(t *testing.T) {
	// Arrange
	cfg, exp, tools := runnerSetup(t)
	tickers := []upbit.Ticker{
		{Market: "KRW-ETH", TradePrice: 3000000, SignedChangeRate: 0.05},
	}
	tools.On("Tickers", mock.Anything, mock.Anything).Return(tickers, nil)
	tools.On("PlaceOrder", mock.Anything, mock.Anything).
		Return((*toolservice.OrderResult)(nil), errors.New("broker unavailable"))
	runner := NewRunner(cfg, exp, tools, zap.NewNop())

	// Act
	err := runner.Run(context.Background())

	// Assert
	require.NoError(t, err)

	store := ledger.NewStore(cfg.Paths.DataDir, "model_a")
	state, err := store.State()
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.LastID)
	assert.Equal(t, 100000000.0, state.Cash())

	metrics, err := store.Metrics()
	require.NoError(t, err)
	assert.Len(t, metrics, 1)
}

func TestRunner_RerunReplaysWithoutRebootstrap(t *testing.T) {
	// Arrange
	cfg, exp, tools := runnerSetup(t)
	exp.Agent.Strategy = "hold"
	tools.On("Tickers", mock.Anything, mock.Anything).Return([]upbit.Ticker{}, nil)
	runner := NewRunner(cfg, exp, tools, zap.NewNop())

	// Act
	require.NoError(t, runner.Run(context.Background()))
	require.NoError(t, runner.Run(context.Background()))

	// Assert
	store := ledger.NewStore(cfg.Paths.DataDir, "model_a")
	entries, err := store.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	metrics, err := store.Metrics()
	require.NoError(t, err)
	assert.Len(t, metrics, 2)
}

func TestRunner_UniverseFromTopMarkets(t *testing.T) {
	// Arrange
	cfg, exp, tools := runnerSetup(t)
	exp.Agent.Strategy = "hold"
	exp.Agent.Symbols = nil
	exp.Agent.TopMarkets = 2
	tools.On("Markets", mock.Anything, 2).Return([]MarketInfo{
		{Market: "KRW-SOL"},
		{Market: "KRW-DOGE"},
	}, nil)
	tools.On("Tickers", mock.Anything, []string{"SOL", "DOGE"}).Return([]upbit.Ticker{}, nil)
	runner := NewRunner(cfg, exp, tools, zap.NewNop())

	// Act
	err := runner.Run(context.Background())

	// Assert
	require.NoError(t, err)
	tools.AssertExpectations(t)
}

func TestRunner_NoEnabledModels(t *testing.T) {
	cfg, exp, tools := runnerSetup(t)
	exp.Models[0].Enabled = false
	runner := NewRunner(cfg, exp, tools, zap.NewNop())

	err := runner.Run(context.Background())

	assert.ErrorContains(t, err, "no enabled models")
}

func TestRunner_InvalidSignatureFailsRun(t *testing.T) {
	cfg, exp, tools := runnerSetup(t)
	exp.Models[0].Signature = "../escape"
	runner := NewRunner(cfg, exp, tools, zap.NewNop())

	err := runner.Run(context.Background())

	assert.ErrorContains(t, err, "all 1 model runs failed")
}

func TestCycleDates_InclusiveRange(t *testing.T) {
	cfg, exp, tools := runnerSetup(t)
	cfg.Agent.UseToday = false
	exp.DateRange.InitDate = "2026-08-20"
	exp.DateRange.EndDate = "2026-08-22"
	runner := NewRunner(cfg, exp, tools, zap.NewNop())

	dates, err := runner.cycleDates()

	require.NoError(t, err)
	assert.Equal(t, []string{"2026-08-20", "2026-08-21", "2026-08-22"}, dates)
}

func TestCycleDates_EnvironmentOverride(t *testing.T) {
	cfg, exp, tools := runnerSetup(t)
	cfg.Agent.UseToday = false
	cfg.Agent.InitDate = "2026-08-21"
	exp.DateRange.InitDate = "2026-08-01"
	exp.DateRange.EndDate = "2026-08-22"
	runner := NewRunner(cfg, exp, tools, zap.NewNop())

	dates, err := runner.cycleDates()

	require.NoError(t, err)
	assert.Equal(t, []string{"2026-08-21", "2026-08-22"}, dates)
}

func TestCycleDates_DefaultsToToday(t *testing.T) {
	cfg, exp, tools := runnerSetup(t)
	cfg.Agent.UseToday = false
	runner := NewRunner(cfg, exp, tools, zap.NewNop())

	dates, err := runner.cycleDates()

	require.NoError(t, err)
	assert.Equal(t, []string{ledger.DateOf(ledger.Now())}, dates)
}

func TestCycleDates_RejectsInvertedRange(t *testing.T) {
	cfg, exp, tools := runnerSetup(t)
	cfg.Agent.UseToday = false
	exp.DateRange.InitDate = "2026-08-22"
	exp.DateRange.EndDate = "2026-08-20"
	runner := NewRunner(cfg, exp, tools, zap.NewNop())

	_, err := runner.cycleDates()

	assert.ErrorContains(t, err, "precedes")
}

func TestCycleDates_RejectsMalformedDate(t *testing.T) {
	cfg, exp, tools := runnerSetup(t)
	cfg.Agent.UseToday = false
	exp.DateRange.InitDate = "22-08-2026"
	runner := NewRunner(cfg, exp, tools, zap.NewNop())

	_, err := runner.cycleDates()

	assert.ErrorContains(t, err, "invalid init date")
}
