package migrator

import "errors"

var (
	// ErrLeaseBusy indicates another replica currently holds the migration
	// lease. Callers retry with backoff.
	ErrLeaseBusy = errors.New("lease busy")

	// ErrLeaseExpired indicates the lease lapsed before renewal and may
	// have been reassigned to another replica.
	ErrLeaseExpired = errors.New("lease expired")

	// ErrLockAcquisitionTimeout indicates the acquisition retry ceiling
	// was exceeded without winning the lease.
	ErrLockAcquisitionTimeout = errors.New("lock acquisition timeout")

	// ErrStaleFencingToken indicates a ledger write carried a fencing
	// token lower than the highest token the ledger has observed. The
	// write is discarded and never retried.
	ErrStaleFencingToken = errors.New("stale fencing token")

	// ErrChecksumConflict indicates a step definition was altered after
	// being applied. This is a fatal consistency violation requiring
	// operator intervention.
	ErrChecksumConflict = errors.New("checksum conflict")

	// ErrNonContiguousPlan indicates a step was skipped or removed from
	// the sequence of definitions.
	ErrNonContiguousPlan = errors.New("non-contiguous plan")

	// ErrLedgerWaitTimeout indicates a waiting replica exceeded its
	// maximum wait for pending migrations to drain.
	ErrLedgerWaitTimeout = errors.New("ledger wait timeout")
)
