// Package metrics exposes the bot's Prometheus instrumentation. Metrics are
// package-level and registered once; the run loop and reconciler call the
// helpers directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swingbot_cycles_total",
			Help: "Poll cycles completed per symbol",
		},
		[]string{"symbol"},
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swingbot_orders_total",
			Help: "Orders by outcome (submitted|rejected|filled|cancelled)",
		},
		[]string{"symbol", "side", "outcome"},
	)

	realizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swingbot_realized_pnl_usd",
			Help: "Realized P&L today in USD",
		},
	)

	positionSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swingbot_position_base",
			Help: "Current position size in base units",
		},
		[]string{"symbol"},
	)

	symbolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swingbot_symbol_errors_total",
			Help: "Per-symbol cycle errors",
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal, ordersTotal, realizedPnL, positionSize, symbolErrors)
}

func CycleDone(symbol string)  { cyclesTotal.WithLabelValues(symbol).Inc() }
func CycleError(symbol string) { symbolErrors.WithLabelValues(symbol).Inc() }

func OrderOutcome(symbol, side, outcome string) {
	ordersTotal.WithLabelValues(symbol, side, outcome).Inc()
}

func SetRealizedToday(usd float64) { realizedPnL.Set(usd) }

func SetPosition(symbol string, size float64) { positionSize.WithLabelValues(symbol).Set(size) }
