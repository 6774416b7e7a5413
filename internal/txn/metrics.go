package txn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsBegun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txngate_transactions_begun_total",
		Help: "Total number of transactions begun",
	}, []string{"adapter"})

	transactionsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txngate_transactions_committed_total",
		Help: "Total number of transactions committed successfully",
	}, []string{"adapter"})

	transactionsRolledBack = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txngate_transactions_rolled_back_total",
		Help: "Total number of transactions rolled back",
	}, []string{"adapter"})

	commitFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txngate_commit_failures_total",
		Help: "Total number of native commit rejections",
	}, []string{"adapter"})

	activeSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "txngate_active_sessions",
		Help: "Number of live transaction sessions",
	}, []string{"adapter"})

	operationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "txngate_operations_dispatched_total",
		Help: "Total number of operations dispatched, by transaction plan",
	}, []string{"adapter", "plan"})
)
