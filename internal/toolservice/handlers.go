package toolservice

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ai-trader-go/internal/ledger"
	"ai-trader-go/internal/upbit"
)

const tickerChunkSize = 100

// Handler serves market data and the paper broker over HTTP.
type Handler struct {
	log    *zap.Logger
	client upbit.ClientInterface
	broker *PaperBroker
	quote  string
}

// NewHandler creates a handler backed by the given market data client and
// broker.
func NewHandler(client upbit.ClientInterface, broker *PaperBroker, quote string, log *zap.Logger) *Handler {
	return &Handler{
		log:    log.Named("toolsvc-api"),
		client: client,
		broker: broker,
		quote:  quote,
	}
}

// Router builds the route table for the tool service.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/price/{symbol}", h.PriceHandler).Methods(http.MethodGet)
	api.HandleFunc("/candles/{symbol}", h.CandlesHandler).Methods(http.MethodGet)
	api.HandleFunc("/ticker", h.TickerHandler).Methods(http.MethodGet)
	api.HandleFunc("/markets", h.MarketsHandler).Methods(http.MethodGet)
	api.HandleFunc("/orders", h.CreateOrderHandler).Methods(http.MethodPost)
	api.HandleFunc("/orders", h.ListOrdersHandler).Methods(http.MethodGet)
	return r
}

// HealthHandler reports liveness for the launcher's readiness probe.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type priceResponse struct {
	Market string  `json:"market"`
	Date   string  `json:"date,omitempty"`
	Price  float64 `json:"price"`
}

// PriceHandler returns the current price for a symbol, or the daily close
// for an explicit ?date=YYYY-MM-DD within the candle window.
func (h *Handler) PriceHandler(w http.ResponseWriter, r *http.Request) {
	marketRequestsTotal.WithLabelValues("price").Inc()
	market := upbit.NormalizeMarket(mux.Vars(r)["symbol"], h.quote)

	date := r.URL.Query().Get("date")
	if date == "" {
		tickers, err := h.client.GetTickers(r.Context(), []string{market})
		if err != nil {
			upstreamErrorsTotal.Inc()
			h.log.Error("Failed to fetch ticker", zap.String("market", market), zap.Error(err))
			h.writeError(w, http.StatusBadGateway, "failed to fetch price")
			return
		}
		if len(tickers) == 0 {
			h.writeError(w, http.StatusNotFound, "no ticker for market "+market)
			return
		}
		h.writeJSON(w, http.StatusOK, priceResponse{Market: market, Price: tickers[0].TradePrice})
		return
	}

	if _, err := time.Parse(ledger.DateLayout, date); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}
	candles, err := h.client.GetDayCandles(r.Context(), market, 0)
	if err != nil {
		upstreamErrorsTotal.Inc()
		h.log.Error("Failed to fetch day candles", zap.String("market", market), zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "failed to fetch candles")
		return
	}
	for _, c := range candles {
		if strings.HasPrefix(c.CandleDateTimeKST, date) {
			h.writeJSON(w, http.StatusOK, priceResponse{Market: market, Date: date, Price: c.TradePrice})
			return
		}
	}
	h.writeError(w, http.StatusNotFound, "no candle for "+market+" on "+date)
}

// CandlesHandler returns intraday candles for a symbol.
func (h *Handler) CandlesHandler(w http.ResponseWriter, r *http.Request) {
	marketRequestsTotal.WithLabelValues("candles").Inc()
	market := upbit.NormalizeMarket(mux.Vars(r)["symbol"], h.quote)

	unit := intQuery(r, "minutes", 60)
	count := intQuery(r, "count", 24)
	to := r.URL.Query().Get("to")

	candles, err := h.client.GetMinuteCandles(r.Context(), market, unit, count, to)
	if err != nil {
		upstreamErrorsTotal.Inc()
		h.log.Error("Failed to fetch minute candles", zap.String("market", market), zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "failed to fetch candles")
		return
	}
	h.writeJSON(w, http.StatusOK, candles)
}

// TickerHandler returns current-price snapshots for ?symbols=a,b,c.
func (h *Handler) TickerHandler(w http.ResponseWriter, r *http.Request) {
	marketRequestsTotal.WithLabelValues("ticker").Inc()

	raw := strings.Split(r.URL.Query().Get("symbols"), ",")
	markets := make([]string, 0, len(raw))
	for _, s := range raw {
		if m := upbit.NormalizeMarket(s, h.quote); m != "" {
			markets = append(markets, m)
		}
	}
	if len(markets) == 0 {
		h.writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}

	tickers, err := h.client.GetTickers(r.Context(), markets)
	if err != nil {
		upstreamErrorsTotal.Inc()
		h.log.Error("Failed to fetch tickers", zap.Strings("markets", markets), zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "failed to fetch tickers")
		return
	}
	h.writeJSON(w, http.StatusOK, tickers)
}

type marketSummary struct {
	Market           string  `json:"market"`
	EnglishName      string  `json:"english_name"`
	TradePrice       float64 `json:"trade_price"`
	AccTradePrice24h float64 `json:"acc_trade_price_24h"`
}

// MarketsHandler lists quote-currency markets ranked by 24h traded value.
// ?top=N truncates the ranking.
func (h *Handler) MarketsHandler(w http.ResponseWriter, r *http.Request) {
	marketRequestsTotal.WithLabelValues("markets").Inc()

	listings, err := h.client.GetMarkets(r.Context())
	if err != nil {
		upstreamErrorsTotal.Inc()
		h.log.Error("Failed to fetch markets", zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "failed to fetch markets")
		return
	}

	prefix := strings.ToUpper(h.quote) + "-"
	names := make(map[string]string)
	codes := make([]string, 0, len(listings))
	for _, m := range listings {
		if strings.HasPrefix(m.Market, prefix) {
			codes = append(codes, m.Market)
			names[m.Market] = m.EnglishName
		}
	}

	summaries := make([]marketSummary, 0, len(codes))
	for start := 0; start < len(codes); start += tickerChunkSize {
		end := start + tickerChunkSize
		if end > len(codes) {
			end = len(codes)
		}
		tickers, err := h.client.GetTickers(r.Context(), codes[start:end])
		if err != nil {
			upstreamErrorsTotal.Inc()
			h.log.Error("Failed to fetch tickers for markets", zap.Error(err))
			h.writeError(w, http.StatusBadGateway, "failed to fetch tickers")
			return
		}
		for _, t := range tickers {
			summaries = append(summaries, marketSummary{
				Market:           t.Market,
				EnglishName:      names[t.Market],
				TradePrice:       t.TradePrice,
				AccTradePrice24h: t.AccTradePrice24h,
			})
		}
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].AccTradePrice24h > summaries[j].AccTradePrice24h
	})
	if top := intQuery(r, "top", 0); top > 0 && top < len(summaries) {
		summaries = summaries[:top]
	}
	h.writeJSON(w, http.StatusOK, summaries)
}

// CreateOrderHandler executes one simulated order.
func (h *Handler) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid order payload")
		return
	}

	result, err := h.broker.Execute(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidOrder) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error("Order execution failed", zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "order execution failed")
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// ListOrdersHandler returns recorded fills, most recent first.
func (h *Handler) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	signature := r.URL.Query().Get("signature")
	limit := intQuery(r, "limit", 100)

	orders, err := h.broker.Orders(r.Context(), signature, limit)
	if err != nil {
		h.log.Error("Failed to list orders", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
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
