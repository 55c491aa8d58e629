package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	depositsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "ledger",
		Name:      "deposits_total",
		Help:      "Total on-chain deposits credited.",
	})

	withdrawalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "ledger",
		Name:      "withdrawals_total",
		Help:      "Total withdrawals debited.",
	})

	escrowLocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "ledger",
		Name:      "escrow_locks_total",
		Help:      "Total wager amounts locked into escrow accounts.",
	})

	// escrowSettlementsTotal counts settlement legs by entry type
	// (payout, fee, escrow_refund).
	escrowSettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atlas",
			Subsystem: "ledger",
			Name:      "escrow_settlements_total",
			Help:      "Total escrow settlement legs by entry type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		depositsTotal,
		withdrawalsTotal,
		escrowLocksTotal,
		escrowSettlementsTotal,
	)
}
