// Package web serves the status endpoint and Prometheus metrics.
package web

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics the bot updates during operation:
//   - bot_orders_total{side}        – orders submitted
//   - bot_exit_reasons_total{reason} – closes split by exit reason
//   - bot_reconnects_total          – reconnect attempts scheduled
//   - bot_session_state             – session state (0..3)
//   - bot_cash_usd                  – cash snapshot
//   - bot_closed_net_pnl_usd        – closed-trade net P&L
var (
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders submitted",
		},
		[]string{"side"},
	)

	ExitReasonsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Position closes split by exit reason",
		},
		[]string{"reason"},
	)

	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_reconnects_total",
			Help: "Reconnect attempts scheduled",
		},
	)

	SessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_session_state",
			Help: "Session state: 0 disconnected, 1 connecting, 2 awaiting handshake, 3 ready",
		},
	)

	CashUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_cash_usd",
			Help: "Cash in USD",
		},
	)

	ClosedNetPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_closed_net_pnl_usd",
			Help: "Closed-trade net P&L in USD",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersTotal,
		ExitReasonsTotal,
		ReconnectsTotal,
		SessionState,
		CashUSD,
		ClosedNetPnL,
	)
}
