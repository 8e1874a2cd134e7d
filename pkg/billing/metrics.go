package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// The swallow-and-acknowledge response policy makes metrics the
// primary failure signal: a processing error never reaches the
// payment processor as a failing status, so it must show up here.
var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billingkit",
		Name:      "events_processed_total",
		Help:      "Lifecycle events handled, by event type and outcome.",
	}, []string{"event", "outcome"})

	transitionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "billingkit",
		Name:      "transitions_applied_total",
		Help:      "Subscription state transitions persisted, by transition.",
	}, []string{"transition"})

	sweeperExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billingkit",
		Name:      "sweeper_expired_total",
		Help:      "Subscriptions expired by the reconciliation sweeper.",
	})

	deadLettersRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "billingkit",
		Name:      "dead_letters_total",
		Help:      "Events dead-lettered after failed business processing.",
	})
)

const (
	outcomeApplied   = "applied"
	outcomeFailed    = "failed"
	outcomeUnhandled = "unhandled"
)
