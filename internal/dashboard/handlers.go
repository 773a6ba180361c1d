package dashboard

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ai-trader-go/internal/ledger"
	"ai-trader-go/internal/upbit"
)

// Handler serves read-only views over the position ledgers.
type Handler struct {
	log     *zap.Logger
	dataDir string
	prices  upbit.ClientInterface
	quote   string
	reload  bool
}

// NewHandler creates a handler reading ledgers under dataDir. The prices
// client values current holdings; reload marks responses uncacheable.
func NewHandler(dataDir string, prices upbit.ClientInterface, quote string, reload bool, log *zap.Logger) *Handler {
	return &Handler{
		log:     log.Named("dashboard-api"),
		dataDir: dataDir,
		prices:  prices,
		quote:   quote,
		reload:  reload,
	}
}

// Router builds the route table. A positive limitConcurrency bounds in-flight
// requests.
func (h *Handler) Router(limitConcurrency int) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogger(h.log))
	if limitConcurrency > 0 {
		r.Use(concurrencyLimit(limitConcurrency))
	}
	if h.reload {
		r.Use(noStore)
	}

	r.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/summary", h.SummaryHandler).Methods(http.MethodGet)
	api.HandleFunc("/signatures", h.SignaturesHandler).Methods(http.MethodGet)
	api.HandleFunc("/positions/{signature}", h.PositionsHandler).Methods(http.MethodGet)
	api.HandleFunc("/positions/{signature}/latest", h.LatestPositionHandler).Methods(http.MethodGet)
	api.HandleFunc("/portfolio/{signature}", h.PortfolioHandler).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{signature}", h.MetricsHandler).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{signature}/latest", h.LatestMetricsHandler).Methods(http.MethodGet)
	api.HandleFunc("/logs/{signature}", h.LogDatesHandler).Methods(http.MethodGet)
	api.HandleFunc("/logs/{signature}/{date}", h.LogHandler).Methods(http.MethodGet)
	api.HandleFunc("/holdings/{signature}", h.HoldingsHandler).Methods(http.MethodGet)
	return r
}

// HealthHandler reports liveness for the launcher's readiness probe.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// store resolves the ledger for the request's signature, writing a 400 and
// returning nil when the signature is unusable.
func (h *Handler) store(w http.ResponseWriter, r *http.Request) *ledger.Store {
	signature := mux.Vars(r)["signature"]
	if !ledger.ValidSignature(signature) {
		h.writeError(w, http.StatusBadRequest, "invalid signature")
		return nil
	}
	return ledger.NewStore(h.dataDir, signature)
}

type summaryRow struct {
	Signature   string  `json:"signature"`
	LastID      int64   `json:"last_id"`
	Date        string  `json:"date"`
	Cash        float64 `json:"cash"`
	RealizedPnL float64 `json:"realized_pnl"`
	Holdings    int     `json:"holdings"`
}

// SummaryHandler returns the latest ledger entry of every known signature.
func (h *Handler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	signatures, err := ledger.Signatures(h.dataDir)
	if err != nil {
		h.log.Error("Failed to list signatures", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to list signatures")
		return
	}

	rows := make([]summaryRow, 0, len(signatures))
	for _, sig := range signatures {
		latest, err := ledger.NewStore(h.dataDir, sig).Latest()
		if err != nil || latest == nil {
			continue
		}
		rows = append(rows, summaryRow{
			Signature:   sig,
			LastID:      latest.ID,
			Date:        latest.Date,
			Cash:        latest.Positions[ledger.CashSymbol],
			RealizedPnL: latest.RealizedPnL,
			Holdings:    countHoldings(latest.Positions),
		})
	}
	h.writeJSON(w, http.StatusOK, rows)
}

// SignaturesHandler lists the signatures with a ledger directory.
func (h *Handler) SignaturesHandler(w http.ResponseWriter, r *http.Request) {
	signatures, err := ledger.Signatures(h.dataDir)
	if err != nil {
		h.log.Error("Failed to list signatures", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to list signatures")
		return
	}
	if signatures == nil {
		signatures = []string{}
	}
	h.writeJSON(w, http.StatusOK, signatures)
}

// PositionsHandler returns a signature's ledger entries in append order.
// ?limit=N keeps only the newest N.
func (h *Handler) PositionsHandler(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	entries, err := store.Entries()
	if err != nil {
		h.log.Error("Failed to read ledger", zap.String("signature", store.Signature()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	if len(entries) == 0 {
		h.writeError(w, http.StatusNotFound, "no ledger for signature "+store.Signature())
		return
	}
	if limit := intQuery(r, "limit", 0); limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// LatestPositionHandler returns a signature's current portfolio entry.
func (h *Handler) LatestPositionHandler(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	latest, err := store.Latest()
	if err != nil {
		h.log.Error("Failed to read ledger", zap.String("signature", store.Signature()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	if latest == nil {
		h.writeError(w, http.StatusNotFound, "no ledger for signature "+store.Signature())
		return
	}
	h.writeJSON(w, http.StatusOK, latest)
}

type portfolioRow struct {
	ID          int64   `json:"id"`
	Date        string  `json:"date"`
	Timestamp   string  `json:"timestamp"`
	Cash        float64 `json:"cash"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// PortfolioHandler returns the cash and realized-PnL series of a signature.
func (h *Handler) PortfolioHandler(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	entries, err := store.Entries()
	if err != nil {
		h.log.Error("Failed to read ledger", zap.String("signature", store.Signature()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	if len(entries) == 0 {
		h.writeError(w, http.StatusNotFound, "no ledger for signature "+store.Signature())
		return
	}

	rows := make([]portfolioRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, portfolioRow{
			ID:          e.ID,
			Date:        e.Date,
			Timestamp:   e.Timestamp,
			Cash:        e.Positions[ledger.CashSymbol],
			RealizedPnL: e.RealizedPnL,
		})
	}
	h.writeJSON(w, http.StatusOK, rows)
}

// MetricsHandler returns a signature's per-cycle metrics series.
func (h *Handler) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	records, err := store.Metrics()
	if err != nil {
		h.log.Error("Failed to read metrics", zap.String("signature", store.Signature()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read metrics")
		return
	}
	if records == nil {
		records = []ledger.MetricsRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

// LatestMetricsHandler returns the most recent metrics record.
func (h *Handler) LatestMetricsHandler(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	records, err := store.Metrics()
	if err != nil {
		h.log.Error("Failed to read metrics", zap.String("signature", store.Signature()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read metrics")
		return
	}
	if len(records) == 0 {
		h.writeError(w, http.StatusNotFound, "no metrics for signature "+store.Signature())
		return
	}
	h.writeJSON(w, http.StatusOK, records[len(records)-1])
}

// LogDatesHandler lists the days that have decision log records.
func (h *Handler) LogDatesHandler(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	dates, err := store.ReasoningDates()
	if err != nil {
		h.log.Error("Failed to list log dates", zap.String("signature", store.Signature()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to list log dates")
		return
	}
	if dates == nil {
		dates = []string{}
	}
	h.writeJSON(w, http.StatusOK, dates)
}

// LogHandler returns one day of decision log records.
func (h *Handler) LogHandler(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	date := mux.Vars(r)["date"]
	if _, err := time.Parse(ledger.DateLayout, date); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}

	records, err := store.Reasoning(date)
	if err != nil {
		h.log.Error("Failed to read logs", zap.String("signature", store.Signature()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read logs")
		return
	}
	if records == nil {
		records = []ledger.ReasoningRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

type holdingRow struct {
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`
	AvgCost    float64 `json:"avg_cost"`
	Price      float64 `json:"price"`
	Value      float64 `json:"value"`
	Unrealized float64 `json:"unrealized_pnl"`
}

type holdingsResponse struct {
	Signature   string       `json:"signature"`
	Cash        float64      `json:"cash"`
	Equity      float64      `json:"equity"`
	RealizedPnL float64      `json:"realized_pnl"`
	Holdings    []holdingRow `json:"holdings"`
}

// HoldingsHandler values a signature's current holdings at live prices.
func (h *Handler) HoldingsHandler(w http.ResponseWriter, r *http.Request) {
	store := h.store(w, r)
	if store == nil {
		return
	}

	latest, err := store.Latest()
	if err != nil {
		h.log.Error("Failed to read ledger", zap.String("signature", store.Signature()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	if latest == nil {
		h.writeError(w, http.StatusNotFound, "no ledger for signature "+store.Signature())
		return
	}

	symbols := make([]string, 0, len(latest.Positions))
	for symbol := range latest.Positions {
		if symbol != ledger.CashSymbol {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)

	priceByMarket := make(map[string]float64)
	if len(symbols) > 0 {
		markets := make([]string, 0, len(symbols))
		for _, symbol := range symbols {
			markets = append(markets, upbit.NormalizeMarket(symbol, h.quote))
		}
		tickers, err := h.prices.GetTickers(r.Context(), markets)
		if err != nil {
			h.log.Error("Failed to fetch ticker prices", zap.Error(err))
			h.writeError(w, http.StatusBadGateway, "failed to fetch prices")
			return
		}
		for _, t := range tickers {
			priceByMarket[t.Market] = t.TradePrice
		}
	}

	resp := holdingsResponse{
		Signature:   store.Signature(),
		Cash:        latest.Positions[ledger.CashSymbol],
		RealizedPnL: latest.RealizedPnL,
		Holdings:    make([]holdingRow, 0, len(symbols)),
	}
	resp.Equity = resp.Cash
	for _, symbol := range symbols {
		quantity := latest.Positions[symbol]
		price := priceByMarket[upbit.NormalizeMarket(symbol, h.quote)]
		value := quantity * price
		resp.Equity += value
		resp.Holdings = append(resp.Holdings, holdingRow{
			Symbol:     symbol,
			Quantity:   quantity,
			AvgCost:    latest.AvgCosts[symbol],
			Price:      price,
			Value:      value,
			Unrealized: (price - latest.AvgCosts[symbol]) * quantity,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func countHoldings(positions map[string]float64) int {
	n := 0
	for symbol := range positions {
		if symbol != ledger.CashSymbol {
			n++
		}
	}
	return n
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
