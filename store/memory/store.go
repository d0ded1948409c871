package memory

import (
	"context"
	"sync"
	"time"

	migrator "github.com/daybook/migrate-orchestrator"
	"github.com/daybook/migrate-orchestrator/store"
)

// Store is an in-memory implementation of LedgerStore and LeaseStore for
// testing and single-node development. It provides thread-safe access using
// a sync.Mutex; all invariants (fencing watermark, single succeeded entry,
// single non-expired lease) are enforced under that lock.
type Store struct {
	mu sync.Mutex

	entries  []migrator.LedgerEntry
	maxToken int64 // highest fencing token ever observed by the ledger

	leases     map[string]leaseRow // resource -> current lease row
	lastTokens map[string]int64    // resource -> last issued fencing token
}

type leaseRow struct {
	holderID  string
	token     int64
	expiresAt time.Time
}

// New creates a new in-memory store with initialized maps.
func New() *Store {
	return &Store{
		leases:     make(map[string]leaseRow),
		lastTokens: make(map[string]int64),
	}
}

// IsApplied reports whether a succeeded entry exists for the step.
func (s *Store) IsApplied(ctx context.Context, engine migrator.EngineKind, sequence int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.succeededLocked(engine, sequence) != nil, nil
}

// SucceededEntry returns the succeeded entry for the step, if any.
func (s *Store) SucceededEntry(ctx context.Context, engine migrator.EngineKind, sequence int64) (migrator.LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.succeededLocked(engine, sequence); e != nil {
		return *e, true, nil
	}
	return migrator.LedgerEntry{}, false, nil
}

// Record appends an entry after the fencing check.
// Returns migrator.ErrStaleFencingToken if fencingToken is lower than the
// highest token the ledger has observed, and store.ErrDuplicateEntry if a
// succeeded entry already exists for the same (engine, sequence).
func (s *Store) Record(ctx context.Context, entry migrator.LedgerEntry, fencingToken int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fencingToken < s.maxToken {
		return migrator.ErrStaleFencingToken
	}
	if entry.Outcome == migrator.OutcomeSucceeded && s.succeededLocked(entry.Engine, entry.Sequence) != nil {
		return store.ErrDuplicateEntry
	}

	entry.FencingToken = fencingToken
	s.entries = append(s.entries, entry)
	s.maxToken = fencingToken
	return nil
}

// PendingCount returns how many of the given steps have no succeeded entry.
func (s *Store) PendingCount(ctx context.Context, steps []migrator.Step) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := 0
	for _, step := range steps {
		if s.succeededLocked(step.Engine, step.Sequence) == nil {
			pending++
		}
	}
	return pending, nil
}

// Entries returns a copy of all recorded entries in append order.
func (s *Store) Entries() []migrator.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]migrator.LedgerEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) succeededLocked(engine migrator.EngineKind, sequence int64) *migrator.LedgerEntry {
	for i := range s.entries {
		e := &s.entries[i]
		if e.Engine == engine && e.Sequence == sequence && e.Outcome == migrator.OutcomeSucceeded {
			return e
		}
	}
	return nil
}

// TryAcquire attempts a non-blocking acquisition of the named resource.
// Returns migrator.ErrLeaseBusy while a non-expired lease is held by another
// replica. Each successful acquisition issues a strictly greater fencing
// token, including acquisitions that follow an expiry.
func (s *Store) TryAcquire(ctx context.Context, resource, holderID string, duration time.Duration) (migrator.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	row, held := s.leases[resource]
	if held && row.holderID != "" && row.holderID != holderID && row.expiresAt.After(now) {
		return migrator.Lease{}, migrator.ErrLeaseBusy
	}

	token := s.lastTokens[resource] + 1
	s.lastTokens[resource] = token
	s.leases[resource] = leaseRow{
		holderID:  holderID,
		token:     token,
		expiresAt: now.Add(duration),
	}

	return migrator.Lease{HolderID: holderID, FencingToken: token, ExpiresAt: now.Add(duration)}, nil
}

// Renew extends the lease if it is still held as given.
// Returns migrator.ErrLeaseExpired otherwise.
func (s *Store) Renew(ctx context.Context, resource string, lease migrator.Lease, duration time.Duration) (migrator.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	row, held := s.leases[resource]
	if !held || row.holderID != lease.HolderID || row.token != lease.FencingToken || !row.expiresAt.After(now) {
		return migrator.Lease{}, migrator.ErrLeaseExpired
	}

	row.expiresAt = now.Add(duration)
	s.leases[resource] = row

	lease.ExpiresAt = row.expiresAt
	return lease, nil
}

// Release gives up the lease. A lease that already expired or was reassigned
// is released without error.
func (s *Store) Release(ctx context.Context, resource string, lease migrator.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, held := s.leases[resource]
	if !held || row.holderID != lease.HolderID || row.token != lease.FencingToken {
		return nil
	}

	row.holderID = ""
	s.leases[resource] = row
	return nil
}
