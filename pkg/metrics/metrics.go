package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoansOriginated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "loans_originated_total",
			Help: "Total number of loans originated",
		},
	)

	ManualPaymentsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manual_payments_recorded_total",
			Help: "Total number of manual payments recorded",
		},
	)

	SettlementLoansProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_loans_processed_total",
			Help: "Loans processed by the daily settlement batch, by outcome",
		},
		[]string{"outcome"}, // settled | skipped | failed
	)

	SettlementRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "settlement_run_duration_seconds",
			Help: "Duration of a full daily settlement run in seconds",
		},
	)
)
