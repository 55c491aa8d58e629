package challenge

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "challenge",
		Name:      "transitions_total",
		Help:      "Total state machine transitions by operation and outcome.",
	}, []string{"op", "outcome"})

	escrowFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "challenge",
		Name:      "escrow_failures_total",
		Help:      "Total escrow gateway failures by operation.",
	}, []string{"op"})

	payoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "challenge",
		Name:      "payouts_total",
		Help:      "Total winner payouts released.",
	})

	refundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "challenge",
		Name:      "refunds_total",
		Help:      "Total escrow refunds (full and split).",
	})
)

func init() {
	prometheus.MustRegister(transitionsTotal, escrowFailures, payoutsTotal, refundsTotal)
}
