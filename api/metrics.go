/*
metrics.go - Prometheus instrumentation for the stock ledger API

PURPOSE:
  Counters for the ledger's operational signals. Exposed at /metrics by
  the router. The inconsistency counter in particular is the alerting
  hook: any increment means the aggregate and lot sum diverged.

SEE ALSO:
  - handlers.go: where the counters are incremented
  - server.go: /metrics route
*/
package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's Prometheus collectors.
type Metrics struct {
	StockReceived           prometheus.Counter
	StockDeducted           prometheus.Counter
	StockReturned           prometheus.Counter
	ConcurrencyConflicts    prometheus.Counter
	InconsistenciesDetected prometheus.Counter
}

// NewMetrics registers the ledger's collectors with the registerer.
// Pass prometheus.DefaultRegisterer in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StockReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "stock_ledger_units_received_total",
			Help: "Total units received into lots.",
		}),
		StockDeducted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stock_ledger_units_deducted_total",
			Help: "Total units deducted across lots.",
		}),
		StockReturned: factory.NewCounter(prometheus.CounterOpts{
			Name: "stock_ledger_units_returned_total",
			Help: "Total units returned into lots.",
		}),
		ConcurrencyConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "stock_ledger_concurrency_conflicts_total",
			Help: "Units of work rolled back after losing a conditional-update race.",
		}),
		InconsistenciesDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "stock_ledger_inconsistencies_total",
			Help: "Detected divergences between the aggregate counter and the lot sum. Should stay at zero.",
		}),
	}
}
