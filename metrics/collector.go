package metrics

import (
	migrator "github.com/daybook/migrate-orchestrator"
)

// Collector wraps metrics and provides helper methods with a pre-filled
// role label.
type Collector struct {
	role string
}

// NewCollector creates a new Collector for the given role.
func NewCollector(role migrator.Role) *Collector {
	return &Collector{role: string(role)}
}

// IncStepsApplied increments the applied counter for an engine.
func (c *Collector) IncStepsApplied(engine migrator.EngineKind) {
	StepsAppliedTotal.WithLabelValues(c.role, string(engine)).Inc()
}

// IncStepsFailed increments the failed counter for an engine.
func (c *Collector) IncStepsFailed(engine migrator.EngineKind) {
	StepsFailedTotal.WithLabelValues(c.role, string(engine)).Inc()
}

// IncLeaseAcquisitions increments the lease acquisition counter.
func (c *Collector) IncLeaseAcquisitions() {
	LeaseAcquisitionsTotal.WithLabelValues(c.role).Inc()
}

// IncStaleTokenRejections increments the stale token rejection counter.
func (c *Collector) IncStaleTokenRejections() {
	StaleTokenRejectionsTotal.WithLabelValues(c.role).Inc()
}

// SetPendingSteps sets the pending steps gauge.
func (c *Collector) SetPendingSteps(count int) {
	PendingSteps.WithLabelValues(c.role).Set(float64(count))
}

// SetState sets the dispatcher state gauge. Sets value to 1 for the given
// state, 0 for all others.
func (c *Collector) SetState(state migrator.State) {
	states := []migrator.State{
		migrator.StateStarting,
		migrator.StateAcquiringLease,
		migrator.StateAwaitingLedger,
		migrator.StateMigrating,
		migrator.StateIdle,
		migrator.StateReady,
		migrator.StateFailed,
	}
	for _, s := range states {
		value := 0.0
		if s == state {
			value = 1.0
		}
		DispatcherState.WithLabelValues(c.role, string(s)).Set(value)
	}
}

// ObserveStepDuration records a step application duration observation.
func (c *Collector) ObserveStepDuration(engine migrator.EngineKind, seconds float64) {
	StepDuration.WithLabelValues(c.role, string(engine)).Observe(seconds)
}

// ObserveLedgerWait records how long a replica waited for the ledger.
func (c *Collector) ObserveLedgerWait(seconds float64) {
	LedgerWaitDuration.WithLabelValues(c.role).Observe(seconds)
}
