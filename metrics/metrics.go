package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StepsAppliedTotal tracks the total number of migration steps applied.
var StepsAppliedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_steps_applied_total",
		Help: "Total migration steps applied",
	},
	[]string{"role", "engine"},
)

// StepsFailedTotal tracks the total number of failed step attempts.
var StepsFailedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_steps_failed_total",
		Help: "Total failed migration step attempts",
	},
	[]string{"role", "engine"},
)

// LeaseAcquisitionsTotal tracks the total number of won lease acquisitions.
var LeaseAcquisitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_lease_acquisitions_total",
		Help: "Total lease acquisitions won",
	},
	[]string{"role"},
)

// StaleTokenRejectionsTotal tracks ledger writes rejected for carrying a
// superseded fencing token.
var StaleTokenRejectionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "migrate_orchestrator_stale_token_rejections_total",
		Help: "Total ledger writes rejected with a stale fencing token",
	},
	[]string{"role"},
)

// PendingSteps tracks the current number of pending migration steps.
var PendingSteps = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "migrate_orchestrator_pending_steps",
		Help: "Current pending migration steps",
	},
	[]string{"role"},
)

// DispatcherState tracks dispatcher state (value 1 for current state, 0 otherwise).
var DispatcherState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "migrate_orchestrator_dispatcher_state",
		Help: "Dispatcher state (1 for current state, 0 otherwise)",
	},
	[]string{"role", "state"},
)

// StepDuration tracks how long engine step applications take.
var StepDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "migrate_orchestrator_step_duration_seconds",
		Help:    "Migration step application duration",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	},
	[]string{"role", "engine"},
)

// LedgerWaitDuration tracks how long waiting replicas spent polling the
// ledger before becoming ready.
var LedgerWaitDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "migrate_orchestrator_ledger_wait_duration_seconds",
		Help:    "Time spent waiting for the ledger to drain",
		Buckets: prometheus.ExponentialBuckets(0.1, 3, 10),
	},
	[]string{"role"},
)
