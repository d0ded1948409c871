package store

import (
	"context"
	"sync"
	"time"

	migrator "github.com/daybook/migrate-orchestrator"
)

// MockLedgerStore is a configurable mock implementation of LedgerStore for
// use in tests. It allows setting up expected return values, tracking method
// calls, and injecting errors for testing error paths.
type MockLedgerStore struct {
	mu sync.RWMutex

	// IsAppliedFunc is called by IsApplied if set.
	IsAppliedFunc func(ctx context.Context, engine migrator.EngineKind, sequence int64) (bool, error)

	// SucceededEntryFunc is called by SucceededEntry if set.
	SucceededEntryFunc func(ctx context.Context, engine migrator.EngineKind, sequence int64) (migrator.LedgerEntry, bool, error)

	// RecordFunc is called by Record if set.
	RecordFunc func(ctx context.Context, entry migrator.LedgerEntry, fencingToken int64) error

	// PendingCountFunc is called by PendingCount if set.
	PendingCountFunc func(ctx context.Context, steps []migrator.Step) (int, error)

	// Call tracking
	IsAppliedCalls      []IsAppliedCall
	SucceededEntryCalls []SucceededEntryCall
	RecordCalls         []RecordCall
	PendingCountCalls   []PendingCountCall
}

// IsAppliedCall records the parameters of a single IsApplied call.
type IsAppliedCall struct {
	Engine   migrator.EngineKind
	Sequence int64
}

// SucceededEntryCall records the parameters of a single SucceededEntry call.
type SucceededEntryCall struct {
	Engine   migrator.EngineKind
	Sequence int64
}

// RecordCall records the parameters of a single Record call.
type RecordCall struct {
	Entry        migrator.LedgerEntry
	FencingToken int64
}

// PendingCountCall records the parameters of a single PendingCount call.
type PendingCountCall struct {
	Steps []migrator.Step
}

// NewMockLedgerStore creates a new mock ledger store.
func NewMockLedgerStore() *MockLedgerStore {
	return &MockLedgerStore{}
}

// IsApplied implements LedgerStore.
func (m *MockLedgerStore) IsApplied(ctx context.Context, engine migrator.EngineKind, sequence int64) (bool, error) {
	m.mu.Lock()
	m.IsAppliedCalls = append(m.IsAppliedCalls, IsAppliedCall{Engine: engine, Sequence: sequence})
	m.mu.Unlock()

	if m.IsAppliedFunc != nil {
		return m.IsAppliedFunc(ctx, engine, sequence)
	}
	return false, nil
}

// SucceededEntry implements LedgerStore.
func (m *MockLedgerStore) SucceededEntry(ctx context.Context, engine migrator.EngineKind, sequence int64) (migrator.LedgerEntry, bool, error) {
	m.mu.Lock()
	m.SucceededEntryCalls = append(m.SucceededEntryCalls, SucceededEntryCall{Engine: engine, Sequence: sequence})
	m.mu.Unlock()

	if m.SucceededEntryFunc != nil {
		return m.SucceededEntryFunc(ctx, engine, sequence)
	}
	return migrator.LedgerEntry{}, false, nil
}

// Record implements LedgerStore.
func (m *MockLedgerStore) Record(ctx context.Context, entry migrator.LedgerEntry, fencingToken int64) error {
	m.mu.Lock()
	m.RecordCalls = append(m.RecordCalls, RecordCall{Entry: entry, FencingToken: fencingToken})
	m.mu.Unlock()

	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, entry, fencingToken)
	}
	return nil
}

// PendingCount implements LedgerStore.
func (m *MockLedgerStore) PendingCount(ctx context.Context, steps []migrator.Step) (int, error) {
	m.mu.Lock()
	m.PendingCountCalls = append(m.PendingCountCalls, PendingCountCall{Steps: steps})
	m.mu.Unlock()

	if m.PendingCountFunc != nil {
		return m.PendingCountFunc(ctx, steps)
	}
	return 0, nil
}

// MockLeaseStore is a configurable mock implementation of LeaseStore for use
// in tests.
type MockLeaseStore struct {
	mu sync.RWMutex

	// TryAcquireFunc is called by TryAcquire if set.
	TryAcquireFunc func(ctx context.Context, resource, holderID string, duration time.Duration) (migrator.Lease, error)

	// RenewFunc is called by Renew if set.
	RenewFunc func(ctx context.Context, resource string, lease migrator.Lease, duration time.Duration) (migrator.Lease, error)

	// ReleaseFunc is called by Release if set.
	ReleaseFunc func(ctx context.Context, resource string, lease migrator.Lease) error

	// Call tracking
	TryAcquireCalls []TryAcquireCall
	RenewCalls      []RenewCall
	ReleaseCalls    []ReleaseCall
}

// TryAcquireCall records the parameters of a single TryAcquire call.
type TryAcquireCall struct {
	Resource string
	HolderID string
	Duration time.Duration
}

// RenewCall records the parameters of a single Renew call.
type RenewCall struct {
	Resource string
	Lease    migrator.Lease
	Duration time.Duration
}

// ReleaseCall records the parameters of a single Release call.
type ReleaseCall struct {
	Resource string
	Lease    migrator.Lease
}

// NewMockLeaseStore creates a new mock lease store.
func NewMockLeaseStore() *MockLeaseStore {
	return &MockLeaseStore{}
}

// TryAcquire implements LeaseStore.
func (m *MockLeaseStore) TryAcquire(ctx context.Context, resource, holderID string, duration time.Duration) (migrator.Lease, error) {
	m.mu.Lock()
	m.TryAcquireCalls = append(m.TryAcquireCalls, TryAcquireCall{Resource: resource, HolderID: holderID, Duration: duration})
	m.mu.Unlock()

	if m.TryAcquireFunc != nil {
		return m.TryAcquireFunc(ctx, resource, holderID, duration)
	}
	return migrator.Lease{HolderID: holderID, FencingToken: 1, ExpiresAt: time.Now().Add(duration)}, nil
}

// Renew implements LeaseStore.
func (m *MockLeaseStore) Renew(ctx context.Context, resource string, lease migrator.Lease, duration time.Duration) (migrator.Lease, error) {
	m.mu.Lock()
	m.RenewCalls = append(m.RenewCalls, RenewCall{Resource: resource, Lease: lease, Duration: duration})
	m.mu.Unlock()

	if m.RenewFunc != nil {
		return m.RenewFunc(ctx, resource, lease, duration)
	}
	lease.ExpiresAt = time.Now().Add(duration)
	return lease, nil
}

// Release implements LeaseStore.
func (m *MockLeaseStore) Release(ctx context.Context, resource string, lease migrator.Lease) error {
	m.mu.Lock()
	m.ReleaseCalls = append(m.ReleaseCalls, ReleaseCall{Resource: resource, Lease: lease})
	m.mu.Unlock()

	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, resource, lease)
	}
	return nil
}
