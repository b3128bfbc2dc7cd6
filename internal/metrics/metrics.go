package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"segment"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"segment", "side"},
	)
	ScansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "scans_total", Help: "Completed scan cycles"},
	)
	BiasDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bias_decisions_total", Help: "Bias engine decisions"},
		[]string{"index", "decision"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Candidate signals emitted by strategies"},
		[]string{"index", "strategy"},
	)
	StrategyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "strategy_errors_total", Help: "Strategy evaluations that failed"},
		[]string{"strategy"},
	)
	GateRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "gate_rejections_total", Help: "Signals rejected by the eligibility chain"},
		[]string{"rule"},
	)
	PositionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "position_transitions_total", Help: "Committed position status transitions"},
		[]string{"from", "to"},
	)
	InvalidTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "position_invalid_transitions_total", Help: "Rejected position status transitions"},
		[]string{"from", "to"},
	)
	ExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "exits_total", Help: "Positions exited by reason"},
		[]string{"reason"},
	)
	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "notifications_dropped_total", Help: "Alerts dropped because the queue was full or delivery failed"},
	)
	ActivePositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "active_positions", Help: "Positions currently active"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, OrdersTotal, ScansTotal, BiasDecisions, SignalsTotal, StrategyErrors,
		GateRejections, PositionTransitions, InvalidTransitions, ExitsTotal,
		NotificationsDropped, ActivePositions,
	)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
