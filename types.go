package migrator

import "time"

// EngineKind identifies which migration engine applies a step.
type EngineKind string

const (
	// EngineStructural is the compiled fast-path engine performing bulk
	// structural and content transformations.
	EngineStructural EngineKind = "structural"

	// EngineSchema is the incremental, versioned engine applying ordered
	// steps against the relational store.
	EngineSchema EngineKind = "schema"
)

// Step identifies one unit of migration work. Steps are loaded once at
// process start and treated as read-only for the process lifetime.
type Step struct {
	// Engine is the engine responsible for applying this step.
	Engine EngineKind

	// Sequence is a monotonic integer, unique per engine.
	Sequence int64

	// Checksum is the hex SHA-256 of the step definition. It detects
	// drift between what was applied and what is currently defined.
	Checksum string

	// Description is a human-readable summary of the step.
	Description string

	// Command and Args are set for structural steps: the external
	// executable to invoke and its arguments.
	Command string
	Args    []string

	// SQL is set for schema steps: the statement batch to apply.
	SQL string
}

// Plan is the ordered set of pending steps computed by the resolver.
// All pending structural steps precede any pending schema step, and steps
// within an engine are ordered strictly by sequence.
type Plan struct {
	// Steps is the execution order. Empty means no pending work.
	Steps []Step
}

// Pending reports whether the plan contains any work.
func (p Plan) Pending() bool {
	return len(p.Steps) > 0
}

// Outcome records how a ledger-recorded attempt ended.
type Outcome string

const (
	// OutcomeSucceeded marks a step as applied.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeFailed records an attempt that did not complete. It must be
	// superseded by a later succeeded entry for the same (engine, sequence)
	// before the step counts as applied.
	OutcomeFailed Outcome = "failed"
)

// LedgerEntry is one row per recorded application attempt. Entries are
// append-only and never mutated.
type LedgerEntry struct {
	// Engine and Sequence identify the step this entry records.
	Engine   EngineKind
	Sequence int64

	// ChecksumAtApply is the step checksum at the time of application.
	// For a succeeded entry it must equal the step's current checksum.
	ChecksumAtApply string

	// StartedAt is when the attempt began.
	StartedAt time.Time

	// FinishedAt is when the attempt ended.
	FinishedAt time.Time

	// Outcome is succeeded or failed.
	Outcome Outcome

	// FencingToken is the lease token the writer held when recording.
	FencingToken int64
}

// Lease is the lock manager's exclusivity token. At most one non-expired
// lease exists per resource at any instant.
type Lease struct {
	// HolderID identifies the replica holding the lease.
	HolderID string

	// FencingToken is a monotonically increasing integer, incremented on
	// every acquisition. It is attached to every ledger write so that a
	// write from a superseded holder can be detected and rejected.
	FencingToken int64

	// ExpiresAt is when the lease lapses unless renewed.
	ExpiresAt time.Time
}

// Role is the functional identity of a running replica.
type Role string

const (
	// RoleApp is the HTTP API server role.
	RoleApp Role = "app"

	// RoleCeleryWorker is the background-task worker pool role.
	RoleCeleryWorker Role = "celery-worker"

	// RoleCeleryBeat is the scheduled-task dispatcher role.
	RoleCeleryBeat Role = "celery-beat"

	// RoleAdminCLI is the administrative command-line role. It never
	// blocks startup of other replicas and does not migrate.
	RoleAdminCLI Role = "admin-cli"
)

// Roles lists every recognized role.
var Roles = []Role{RoleApp, RoleCeleryWorker, RoleCeleryBeat, RoleAdminCLI}

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// CanMigrate reports whether replicas of this role attempt the migration
// lease at startup. Only the app role migrates; workers and the scheduler
// wait on the ledger, and the admin CLI skips coordination entirely.
func (r Role) CanMigrate() bool {
	return r == RoleApp
}

// BlocksOnLedger reports whether the role must wait for pending migrations
// before becoming ready.
func (r Role) BlocksOnLedger() bool {
	return r != RoleAdminCLI
}

// State is the dispatcher's per-replica lifecycle state. It is transient
// and never persisted.
type State string

const (
	// StateStarting is the initial state of every replica.
	StateStarting State = "starting"

	// StateAcquiringLease means a migration-capable replica is retrying
	// lease acquisition with backoff.
	StateAcquiringLease State = "acquiring-lease"

	// StateAwaitingLedger means the replica is polling the ledger until
	// no pending work remains.
	StateAwaitingLedger State = "awaiting-ledger"

	// StateMigrating means this replica holds the lease and is driving
	// the resolved plan through the engine adapters.
	StateMigrating State = "migrating"

	// StateIdle means the replica was migration-capable but found no
	// pending work.
	StateIdle State = "idle"

	// StateReady is the only state from which dependent application logic
	// in the same process may proceed.
	StateReady State = "ready"

	// StateFailed is terminal. A replica stuck here never reports healthy.
	StateFailed State = "failed"
)
