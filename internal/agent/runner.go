package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ai-trader-go/internal/config"
	"ai-trader-go/internal/ledger"
	"ai-trader-go/internal/toolservice"
	"ai-trader-go/internal/upbit"
)

// Runner drives the decision cycles of every enabled model and appends the
// outcomes to each model's ledger. The runner is the only ledger writer in
// the system.
type Runner struct {
	logger *zap.Logger
	cfg    config.RunConfig
	exp    config.Experiment
	tools  ToolClient
}

// NewRunner creates a runner for one agent process.
func NewRunner(cfg config.RunConfig, exp config.Experiment, tools ToolClient, logger *zap.Logger) *Runner {
	return &Runner{
		logger: logger.Named("agent"),
		cfg:    cfg,
		exp:    exp,
		tools:  tools,
	}
}

// Run executes the decision cycles for every enabled model. A failing model
// is logged and does not abort the remaining models; the run fails only when
// every model fails.
func (r *Runner) Run(ctx context.Context) error {
	models := r.exp.EnabledModels()
	if len(models) == 0 {
		return fmt.Errorf("no enabled models in experiment config")
	}

	dates, err := r.cycleDates()
	if err != nil {
		return err
	}
	r.logger.Info("Starting agent run",
		zap.Int("models", len(models)),
		zap.Int("cycles", len(dates)),
		zap.String("first_date", dates[0]),
		zap.String("last_date", dates[len(dates)-1]),
	)

	failed := 0
	for _, model := range models {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runModel(ctx, model, dates); err != nil {
			r.logger.Error("Model run failed", zap.String("signature", model.Signature), zap.Error(err))
			failed++
		}
	}
	if failed == len(models) {
		return fmt.Errorf("all %d model runs failed", failed)
	}
	return nil
}

// cycleDates resolves the run's decision days. Environment overrides win over
// the experiment file; with neither set the run covers today only.
func (r *Runner) cycleDates() ([]string, error) {
	init := r.exp.DateRange.InitDate
	end := r.exp.DateRange.EndDate
	if r.cfg.Agent.InitDate != "" {
		init = r.cfg.Agent.InitDate
	}
	if r.cfg.Agent.EndDate != "" {
		end = r.cfg.Agent.EndDate
	}

	if r.cfg.Agent.UseToday || init == "" {
		return []string{ledger.DateOf(ledger.Now())}, nil
	}

	start, err := time.ParseInLocation(ledger.DateLayout, init, ledger.KST)
	if err != nil {
		return nil, fmt.Errorf("invalid init date %q: %w", init, err)
	}
	last := start
	if end != "" {
		last, err = time.ParseInLocation(ledger.DateLayout, end, ledger.KST)
		if err != nil {
			return nil, fmt.Errorf("invalid end date %q: %w", end, err)
		}
	}
	if last.Before(start) {
		return nil, fmt.Errorf("end date %s precedes init date %s", end, init)
	}

	var dates []string
	for d := start; !d.After(last); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(ledger.DateLayout))
	}
	return dates, nil
}

func (r *Runner) runModel(ctx context.Context, model config.Model, dates []string) error {
	if !ledger.ValidSignature(model.Signature) {
		return fmt.Errorf("invalid model signature %q", model.Signature)
	}
	l := r.logger.With(zap.String("signature", model.Signature))
	store := ledger.NewStore(r.cfg.Paths.DataDir, model.Signature)

	// 1. Bootstrap the ledger on first contact.
	initialCash := r.exp.Agent.InitialCash
	if initialCash <= 0 {
		initialCash = r.cfg.Agent.StartCash
	}
	created, err := store.Bootstrap(initialCash)
	if err != nil {
		return fmt.Errorf("could not bootstrap ledger: %w", err)
	}
	if created {
		l.Info("Bootstrapped position ledger", zap.Float64("initial_cash", initialCash))
	}

	strategy, err := NewStrategy(r.exp.Agent.Strategy)
	if err != nil {
		return err
	}
	initCtx := StrategyContext{Logger: l, Settings: r.exp.Agent, Quote: r.cfg.Tool.Quote}
	if err := strategy.Initialize(initCtx); err != nil {
		return fmt.Errorf("could not initialize strategy %s: %w", strategy.Name(), err)
	}

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.runCycle(ctx, l, store, strategy, model, date); err != nil {
			return fmt.Errorf("cycle %s: %w", date, err)
		}
	}
	return nil
}

func (r *Runner) runCycle(ctx context.Context, l *zap.Logger, store *ledger.Store, strategy Strategy, model config.Model, date string) error {
	// 1. Replay the ledger into the current state.
	state, err := store.State()
	if err != nil {
		return fmt.Errorf("could not replay ledger: %w", err)
	}

	// 2. Assemble the trading universe and fetch its tickers.
	symbols, err := r.universe(ctx, state)
	if err != nil {
		return fmt.Errorf("could not resolve trading universe: %w", err)
	}
	tickers, err := r.tools.Tickers(ctx, symbols)
	if err != nil {
		return fmt.Errorf("could not fetch tickers: %w", err)
	}

	// 3. Let the strategy decide.
	intents, reasoning, err := strategy.Decide(StrategyContext{
		Logger:   l,
		Settings: r.exp.Agent,
		Quote:    r.cfg.Tool.Quote,
		State:    state,
		Tickers:  tickers,
	})
	if err != nil {
		return fmt.Errorf("strategy %s decide: %w", strategy.Name(), err)
	}

	// 4. Execute the intents. A failed order skips that order, not the cycle.
	for _, intent := range intents {
		if err := r.checkIntent(state, intent); err != nil {
			l.Warn("Skipping order",
				zap.String("symbol", intent.Symbol),
				zap.String("side", intent.Side),
				zap.Error(err),
			)
			continue
		}

		fill, err := r.tools.PlaceOrder(ctx, toolservice.OrderRequest{
			Signature:   model.Signature,
			Symbol:      intent.Symbol,
			Side:        intent.Side,
			Amount:      intent.Amount,
			Price:       intent.Price,
			MarketOrder: intent.MarketOrder,
		})
		if err != nil {
			l.Error("Order failed",
				zap.String("symbol", intent.Symbol),
				zap.String("side", intent.Side),
				zap.Error(err),
			)
			continue
		}

		if err := r.applyFill(l, store, &state, date, fill); err != nil {
			return err
		}
	}

	// 5. Close the cycle with reasoning and metrics records.
	if reasoning != "" {
		rec := ledger.ReasoningRecord{
			Timestamp: ledger.FormatTime(ledger.Now()),
			Model:     model.Name,
			Content:   reasoning,
		}
		if err := store.AppendReasoning(date, rec); err != nil {
			l.Warn("Could not append reasoning record", zap.Error(err))
		}
	}
	if err := r.appendMetrics(store, state, tickers); err != nil {
		l.Warn("Could not append metrics record", zap.Error(err))
	}
	return nil
}

// universe returns the symbols visible to the strategy: the configured list,
// or the top markets by traded value when none is configured, always extended
// with currently held symbols.
func (r *Runner) universe(ctx context.Context, state ledger.State) ([]string, error) {
	seen := make(map[string]struct{})
	var symbols []string
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || s == ledger.CashSymbol {
			return
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			symbols = append(symbols, s)
		}
	}

	for _, s := range r.exp.Agent.Symbols {
		add(s)
	}
	if len(symbols) == 0 {
		markets, err := r.tools.Markets(ctx, r.exp.Agent.TopMarkets)
		if err != nil {
			return nil, fmt.Errorf("could not fetch top markets: %w", err)
		}
		for _, m := range markets {
			add(BaseSymbol(m.Market))
		}
	}

	held := make([]string, 0, len(state.Positions))
	for symbol := range state.Positions {
		if symbol != ledger.CashSymbol {
			held = append(held, symbol)
		}
	}
	sort.Strings(held)
	for _, s := range held {
		add(s)
	}
	return symbols, nil
}

// checkIntent validates an intent against the replayed state so orders the
// portfolio cannot afford never reach the broker.
func (r *Runner) checkIntent(state ledger.State, intent Intent) error {
	switch intent.Side {
	case "buy":
		cost := intent.Amount
		if !intent.MarketOrder {
			cost = intent.Amount * intent.Price
		}
		cost *= 1 + r.cfg.Tool.FeeRate
		if cost > state.Cash() {
			return fmt.Errorf("insufficient cash: need %.2f, have %.2f", cost, state.Cash())
		}
	case "sell":
		if held := state.Positions[intent.Symbol]; intent.Amount > held+quantityEpsilon {
			return fmt.Errorf("insufficient %s: selling %v, hold %v", intent.Symbol, intent.Amount, held)
		}
	default:
		return fmt.Errorf("unknown intent side %q", intent.Side)
	}
	return nil
}

// applyFill folds a broker fill into the state and appends the resulting
// ledger entry. A fill the state rejects is logged and dropped; a failed
// append aborts the run since the ledger would no longer match the state.
func (r *Runner) applyFill(l *zap.Logger, store *ledger.Store, state *ledger.State, date string, fill *toolservice.OrderResult) error {
	symbol := BaseSymbol(fill.Market)

	action := &ledger.TradeAction{
		Action:      fill.Side,
		Symbol:      symbol,
		Amount:      fill.Quantity,
		MarketOrder: fill.MarketOrder,
		FillPrice:   fill.FillPrice,
		Fee:         fill.Fee,
		FeeRate:     fill.FeeRate,
	}

	var err error
	switch fill.Side {
	case "buy":
		action.QuoteSpent = fill.QuoteAmount
		err = ApplyBuy(state, symbol, fill)
	case "sell":
		action.Proceeds = fill.QuoteAmount
		err = ApplySell(state, symbol, fill)
	default:
		err = fmt.Errorf("unknown fill side %q", fill.Side)
	}
	if err != nil {
		l.Error("Fill rejected by balance check", zap.String("order_id", fill.OrderID), zap.Error(err))
		return nil
	}

	entry := ledger.Entry{
		Date:        date,
		Timestamp:   ledger.FormatTime(ledger.Now()),
		ID:          state.LastID + 1,
		Action:      action,
		Positions:   copyPositions(state.Positions),
		AvgCosts:    copyPositions(state.AvgCosts),
		RealizedPnL: state.RealizedPnL,
	}
	if err := store.Append(entry); err != nil {
		return fmt.Errorf("could not append ledger entry: %w", err)
	}
	state.LastID = entry.ID

	l.Info("Recorded fill",
		zap.Int64("entry_id", entry.ID),
		zap.String("side", fill.Side),
		zap.String("symbol", symbol),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("fill_price", fill.FillPrice),
	)
	return nil
}

// appendMetrics values the portfolio at the cycle's tickers and appends one
// metrics record.
func (r *Runner) appendMetrics(store *ledger.Store, state ledger.State, tickers []upbit.Ticker) error {
	price := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		price[BaseSymbol(t.Market)] = t.TradePrice
	}

	equity := state.Cash()
	holdings := 0
	for symbol, quantity := range state.Positions {
		if symbol == ledger.CashSymbol {
			continue
		}
		holdings++
		equity += quantity * price[symbol]
	}

	return store.AppendMetrics(ledger.MetricsRecord{
		Timestamp:   ledger.FormatTime(ledger.Now()),
		Equity:      equity,
		Cash:        state.Cash(),
		RealizedPnL: state.RealizedPnL,
		Holdings:    holdings,
	})
}

func copyPositions(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
