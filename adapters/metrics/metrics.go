// Package metrics provides Prometheus metrics collection for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the engine.
type Collector struct {
	// Settlement metrics
	SettlementsTotal   prometheus.Counter
	SettlementFailures prometheus.Counter
	PayoutCents        prometheus.Counter

	// Reporting metrics
	ReportsAccepted prometheus.Counter
	ReportsRejected *prometheus.CounterVec

	// Scheduling metrics
	SchedulesArmed prometheus.Counter
	ProbeAttempts  prometheus.Counter

	// Stream lifecycle
	StreamsCreated prometheus.Counter
	StreamsPaused  prometheus.Counter
	StreamsResumed prometheus.Counter
}

// New creates a new metrics collector registered on the default registry.
func New() *Collector {
	return newWith(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry creates a collector on a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	return newWith(promauto.With(reg))
}

func newWith(factory promauto.Factory) *Collector {
	return &Collector{
		SettlementsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meterpay",
			Name:      "settlements_total",
			Help:      "Total number of executed settlements",
		}),
		SettlementFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meterpay",
			Name:      "settlement_failures_total",
			Help:      "Total number of settlements failed for insufficient deposit",
		}),
		PayoutCents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meterpay",
			Name:      "payout_cents_total",
			Help:      "Total cents paid out to payees",
		}),
		ReportsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meterpay",
			Name:      "reports_accepted_total",
			Help:      "Total number of accepted usage reports",
		}),
		ReportsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meterpay",
			Name:      "reports_rejected_total",
			Help:      "Total number of rejected usage reports",
		}, []string{"reason"}),
		SchedulesArmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meterpay",
			Name:      "schedules_armed_total",
			Help:      "Total number of settlement callbacks armed",
		}),
		ProbeAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meterpay",
			Name:      "probe_attempts_total",
			Help:      "Total number of capacity probe attempts",
		}),
		StreamsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meterpay",
			Name:      "streams_created_total",
			Help:      "Total number of streams created",
		}),
		StreamsPaused: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meterpay",
			Name:      "streams_paused_total",
			Help:      "Total number of stream pauses",
		}),
		StreamsResumed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meterpay",
			Name:      "streams_resumed_total",
			Help:      "Total number of stream resumes",
		}),
	}
}
