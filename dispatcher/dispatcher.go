package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	migrator "github.com/daybook/migrate-orchestrator"
	"github.com/daybook/migrate-orchestrator/engine"
	"github.com/daybook/migrate-orchestrator/lock"
	"github.com/daybook/migrate-orchestrator/metrics"
	"github.com/daybook/migrate-orchestrator/plan"
	"github.com/daybook/migrate-orchestrator/store"
)

// Config holds configuration for the Dispatcher.
type Config struct {
	// Role is the functional identity of this replica (required).
	Role migrator.Role

	// ReplicaID identifies this replica as a lease holder
	// (default: a fresh UUID).
	ReplicaID string

	// Ledger is the ledger store (required).
	Ledger store.LedgerStore

	// Locker is the lock manager (required for migration-capable roles).
	Locker *lock.Manager

	// Resolver computes the pending plan (required for migration-capable
	// roles).
	Resolver *plan.Resolver

	// Adapters maps each engine to its invocation adapter (required for
	// migration-capable roles).
	Adapters map[migrator.EngineKind]engine.Adapter

	// Steps is the full set of step definitions loaded at process start.
	Steps []migrator.Step

	// PollInterval is how often waiting replicas re-check the ledger
	// (default: 1s).
	PollInterval time.Duration

	// MaxLedgerWait bounds how long a waiting replica polls before
	// declaring failure (default: 10m). This prevents an indefinite
	// startup hang when the migrating replica has crashed and no
	// replacement exists.
	MaxLedgerWait time.Duration

	// Logger is for observability (optional).
	Logger migrator.Logger

	// Collector is for metrics (optional).
	Collector *metrics.Collector
}

// Dispatcher is the per-replica state machine deciding whether this process
// must run the migration, wait for it, or skip it entirely.
//
// States: Starting -> {AcquiringLease | AwaitingLedger} -> {Migrating | Idle}
// -> Ready, with a terminal Failed reachable from Migrating and from a
// ledger-wait timeout. Ready is the only state from which dependent
// application logic in the same process may proceed.
type Dispatcher struct {
	config Config

	mu    sync.RWMutex
	state migrator.State
}

// New creates a new Dispatcher with the given configuration.
// Applies default values for ReplicaID and all durations if zero.
func New(cfg Config) *Dispatcher {
	if cfg.ReplicaID == "" {
		cfg.ReplicaID = uuid.New().String()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.MaxLedgerWait == 0 {
		cfg.MaxLedgerWait = 10 * time.Minute
	}

	return &Dispatcher{
		config: cfg,
		state:  migrator.StateStarting,
	}
}

// State returns the current dispatcher state.
func (d *Dispatcher) State() migrator.State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// ReplicaID returns this replica's lease holder identity.
func (d *Dispatcher) ReplicaID() string {
	return d.config.ReplicaID
}

// Run drives the state machine until Ready or Failed. It returns nil once
// the replica is ready and a non-nil error when it fails; the caller is
// expected to exit non-zero on error so the deployment supervisor can
// restart or alert.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.config.Role.Valid() {
		return d.fail(ctx, fmt.Errorf("unknown role %q", d.config.Role))
	}

	d.setState(ctx, migrator.StateStarting)

	// admin-cli skips coordination entirely.
	if !d.config.Role.BlocksOnLedger() {
		d.setState(ctx, migrator.StateReady)
		return nil
	}

	if !d.config.Role.CanMigrate() {
		return d.awaitLedger(ctx)
	}

	return d.migrate(ctx)
}

// migrate is the migration-capable path: resolve, compete for the lease,
// drive the plan, release.
func (d *Dispatcher) migrate(ctx context.Context) error {
	// Resolve before competing: checksum conflicts and plan gaps are
	// fatal regardless of who holds the lease, and an empty plan means
	// there is nothing to win.
	resolved, err := d.config.Resolver.Resolve(ctx, d.config.Steps)
	if err != nil {
		return d.fail(ctx, err)
	}
	if d.config.Collector != nil {
		d.config.Collector.SetPendingSteps(len(resolved.Steps))
	}
	if !resolved.Pending() {
		d.setState(ctx, migrator.StateIdle)
		d.setState(ctx, migrator.StateReady)
		return nil
	}

	d.setState(ctx, migrator.StateAcquiringLease)

	lease, abandoned, err := d.config.Locker.Acquire(ctx, d.config.ReplicaID, func(ctx context.Context) (bool, error) {
		pending, err := d.config.Ledger.PendingCount(ctx, d.config.Steps)
		if err != nil {
			return false, err
		}
		return pending == 0, nil
	})
	if err != nil {
		return d.fail(ctx, err)
	}
	if abandoned {
		// Another replica finished the work while we were waiting.
		d.setState(ctx, migrator.StateReady)
		return nil
	}
	if d.config.Collector != nil {
		d.config.Collector.IncLeaseAcquisitions()
	}

	d.setState(ctx, migrator.StateMigrating)

	// Keep the lease alive in the background. If renewal is refused the
	// lease may already belong to another replica and continuing would
	// race its writes; the fencing token protects the ledger either way,
	// but we stop at the next step boundary.
	keeperCtx, cancelKeeper := context.WithCancel(ctx)
	keeperDone := make(chan error, 1)
	go func() {
		keeperDone <- d.config.Locker.Keep(keeperCtx, lease)
	}()

	// Re-resolve after winning: a previous holder may have advanced the
	// ledger between our first resolution and the acquisition.
	applyErr := func() error {
		resolved, err := d.config.Resolver.Resolve(ctx, d.config.Steps)
		if err != nil {
			return err
		}
		return d.applyPlan(ctx, resolved, lease, keeperDone)
	}()

	cancelKeeper()

	if releaseErr := d.config.Locker.Release(ctx, lease); releaseErr != nil {
		if d.config.Logger != nil {
			d.config.Logger.Error(ctx, "failed to release lease", "replicaID", d.config.ReplicaID, "error", releaseErr)
		}
	}

	if applyErr != nil {
		return d.fail(ctx, applyErr)
	}

	d.setState(ctx, migrator.StateReady)
	return nil
}

// applyPlan drives each step through its engine adapter in plan order,
// recording a ledger entry per attempt with the holder's fencing token.
func (d *Dispatcher) applyPlan(ctx context.Context, resolved migrator.Plan, lease migrator.Lease, keeperDone <-chan error) error {
	for _, step := range resolved.Steps {
		select {
		case err := <-keeperDone:
			if err == nil {
				err = migrator.ErrLeaseExpired
			}
			return fmt.Errorf("lease lost during migration: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		adapter, ok := d.config.Adapters[step.Engine]
		if !ok {
			return fmt.Errorf("no adapter configured for engine %q", step.Engine)
		}

		if d.config.Logger != nil {
			d.config.Logger.Info(ctx, "applying step",
				"engine", step.Engine,
				"sequence", step.Sequence,
				"description", step.Description)
		}

		startedAt := time.Now().UTC()
		outcome, applyErr := adapter.Apply(ctx, step)
		finishedAt := time.Now().UTC()

		entry := migrator.LedgerEntry{
			Engine:          step.Engine,
			Sequence:        step.Sequence,
			ChecksumAtApply: step.Checksum,
			StartedAt:       startedAt,
			FinishedAt:      finishedAt,
		}

		if applyErr != nil || !outcome.Succeeded {
			entry.Outcome = migrator.OutcomeFailed
			if recordErr := d.config.Ledger.Record(ctx, entry, lease.FencingToken); recordErr != nil {
				if d.config.Logger != nil {
					d.config.Logger.Error(ctx, "failed to record failed attempt",
						"engine", step.Engine,
						"sequence", step.Sequence,
						"error", recordErr)
				}
			}
			if d.config.Collector != nil {
				d.config.Collector.IncStepsFailed(step.Engine)
			}
			if applyErr == nil {
				applyErr = &engine.Failure{Engine: step.Engine, Sequence: step.Sequence, Reason: "engine reported failure"}
			}
			return applyErr
		}

		entry.Outcome = migrator.OutcomeSucceeded
		if recordErr := d.config.Ledger.Record(ctx, entry, lease.FencingToken); recordErr != nil {
			if errors.Is(recordErr, migrator.ErrStaleFencingToken) && d.config.Collector != nil {
				d.config.Collector.IncStaleTokenRejections()
			}
			return fmt.Errorf("failed to record step %s/%d: %w", step.Engine, step.Sequence, recordErr)
		}

		if d.config.Collector != nil {
			d.config.Collector.IncStepsApplied(step.Engine)
			d.config.Collector.ObserveStepDuration(step.Engine, outcome.Duration.Seconds())
		}
	}

	return nil
}

// awaitLedger is the non-migrating path: poll the readiness predicate until
// no pending work remains, bounded by MaxLedgerWait.
func (d *Dispatcher) awaitLedger(ctx context.Context) error {
	d.setState(ctx, migrator.StateAwaitingLedger)

	started := time.Now()
	deadline := started.Add(d.config.MaxLedgerWait)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		pending, err := d.config.Ledger.PendingCount(ctx, d.config.Steps)
		if err != nil {
			return d.fail(ctx, fmt.Errorf("failed to poll ledger: %w", err))
		}
		if d.config.Collector != nil {
			d.config.Collector.SetPendingSteps(pending)
		}

		if pending == 0 {
			if d.config.Collector != nil {
				d.config.Collector.ObserveLedgerWait(time.Since(started).Seconds())
			}
			d.setState(ctx, migrator.StateReady)
			return nil
		}

		if time.Now().After(deadline) {
			return d.fail(ctx, fmt.Errorf("%w: %d steps still pending after %s",
				migrator.ErrLedgerWaitTimeout, pending, d.config.MaxLedgerWait))
		}

		select {
		case <-ctx.Done():
			return d.fail(ctx, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) setState(ctx context.Context, state migrator.State) {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()

	if d.config.Collector != nil {
		d.config.Collector.SetState(state)
	}
	if d.config.Logger != nil {
		d.config.Logger.Info(ctx, "dispatcher state changed",
			"role", d.config.Role,
			"replicaID", d.config.ReplicaID,
			"state", state)
	}
}

func (d *Dispatcher) fail(ctx context.Context, err error) error {
	d.setState(ctx, migrator.StateFailed)
	if d.config.Logger != nil {
		d.config.Logger.Error(ctx, "dispatcher failed",
			"role", d.config.Role,
			"replicaID", d.config.ReplicaID,
			"error", err)
	}
	return err
}
