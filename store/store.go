package store

import (
	"context"
	"time"

	migrator "github.com/daybook/migrate-orchestrator"
)

// LedgerStore is the durable, append-only record of applied migration steps.
// Implementations must be safe for concurrent access from multiple replicas.
type LedgerStore interface {
	// IsApplied reports whether a succeeded entry exists for the step.
	IsApplied(ctx context.Context, engine migrator.EngineKind, sequence int64) (bool, error)

	// SucceededEntry returns the succeeded entry for the step, if any.
	// The bool result is false when the step has never succeeded.
	SucceededEntry(ctx context.Context, engine migrator.EngineKind, sequence int64) (migrator.LedgerEntry, bool, error)

	// Record appends an entry. It returns migrator.ErrStaleFencingToken
	// if fencingToken is lower than the highest token the ledger has ever
	// observed, discarding the write.
	Record(ctx context.Context, entry migrator.LedgerEntry, fencingToken int64) error

	// PendingCount returns how many of the given steps have no succeeded
	// entry yet.
	PendingCount(ctx context.Context, steps []migrator.Step) (int, error)
}

// LeaseStore is the durable single-row-per-resource storage backing the lock
// manager. Acquisition and renewal are atomic compare-and-swap operations on
// (holder_id, fencing_token, expires_at).
type LeaseStore interface {
	// TryAcquire attempts a non-blocking acquisition of the named resource.
	// Returns migrator.ErrLeaseBusy while a non-expired lease is held by
	// another replica. Every successful acquisition issues a strictly
	// greater fencing token than all previous issuances.
	TryAcquire(ctx context.Context, resource, holderID string, duration time.Duration) (migrator.Lease, error)

	// Renew extends the lease before it lapses. Returns
	// migrator.ErrLeaseExpired if the lease is no longer held as given.
	Renew(ctx context.Context, resource string, lease migrator.Lease, duration time.Duration) (migrator.Lease, error)

	// Release gives up the lease. Releasing a lease that already expired
	// or was reassigned is not an error.
	Release(ctx context.Context, resource string, lease migrator.Lease) error
}
