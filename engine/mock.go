package engine

import (
	"context"
	"sync"
	"time"

	migrator "github.com/daybook/migrate-orchestrator"
)

// MockAdapter is a mock implementation of Adapter for testing.
type MockAdapter struct {
	mu sync.Mutex

	// ApplyFunc is called by Apply if set.
	ApplyFunc func(ctx context.Context, step migrator.Step) (Outcome, error)

	// ApplyCalls records every Apply invocation.
	ApplyCalls []ApplyCall

	inFlight int
	// MaxInFlight records the highest number of overlapping Apply calls
	// observed, for asserting mutual exclusion in tests.
	MaxInFlight int
}

// ApplyCall records the parameters of a single Apply call.
type ApplyCall struct {
	Step migrator.Step
}

// NewMockAdapter creates a new MockAdapter with an empty call history.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		ApplyCalls: make([]ApplyCall, 0),
	}
}

// Apply implements the Adapter interface.
// It records the call, then calls ApplyFunc if set; otherwise it reports
// immediate success.
func (m *MockAdapter) Apply(ctx context.Context, step migrator.Step) (Outcome, error) {
	m.mu.Lock()
	m.ApplyCalls = append(m.ApplyCalls, ApplyCall{Step: step})
	m.inFlight++
	if m.inFlight > m.MaxInFlight {
		m.MaxInFlight = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.ApplyFunc != nil {
		return m.ApplyFunc(ctx, step)
	}
	return Outcome{Succeeded: true, Duration: time.Millisecond}, nil
}

// Calls returns a copy of the recorded Apply calls.
func (m *MockAdapter) Calls() []ApplyCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ApplyCall, len(m.ApplyCalls))
	copy(out, m.ApplyCalls)
	return out
}

// Reset clears the call history.
func (m *MockAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ApplyCalls = make([]ApplyCall, 0)
	m.MaxInFlight = 0
}
