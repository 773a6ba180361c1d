package toolservice

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolsvc_paper_orders_total",
			Help: "Number of simulated orders filled, by side.",
		},
		[]string{"side"},
	)
	marketRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolsvc_market_requests_total",
			Help: "Number of market data requests served, by endpoint.",
		},
		[]string{"endpoint"},
	)
	upstreamErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toolsvc_upstream_errors_total",
			Help: "Number of failed requests to the upstream exchange API.",
		},
	)
)

func init() {
	prometheus.MustRegister(ordersTotal, marketRequestsTotal, upstreamErrorsTotal)
}
