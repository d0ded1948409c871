package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	migrator "github.com/daybook/migrate-orchestrator"
	"github.com/daybook/migrate-orchestrator/store"
)

// DefaultResource is the lease resource name guarding startup migrations.
const DefaultResource = "startup-migrations"

// Config holds configuration for the lock Manager.
type Config struct {
	// Store is the lease store backing acquisition (required).
	Store store.LeaseStore

	// Resource is the lease resource name (default: DefaultResource).
	Resource string

	// LeaseDuration is how long an acquisition lasts without renewal
	// (default: 30s). Lease expiry is the sole crash-recovery mechanism:
	// a replica that dies mid-migration stops renewing, and after at most
	// one lease duration another replica can take over.
	LeaseDuration time.Duration

	// AcquireTimeout is the ceiling on the acquisition retry loop
	// (default: 10m). Exceeding it surfaces ErrLockAcquisitionTimeout.
	AcquireTimeout time.Duration

	// InitialBackoff is the first retry interval (default: 250ms).
	InitialBackoff time.Duration

	// MaxBackoff caps the retry interval (default: 5s).
	MaxBackoff time.Duration

	// Logger is for observability (optional).
	Logger migrator.Logger
}

// Manager wraps a LeaseStore with caller-driven retry and renewal. It is the
// distributed mutual-exclusion primitive used by migration-capable replicas.
type Manager struct {
	config Config
}

// New creates a new Manager with the given configuration.
// Applies default values for the resource name and all durations if zero.
func New(cfg Config) *Manager {
	if cfg.Resource == "" {
		cfg.Resource = DefaultResource
	}
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = 30 * time.Second
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = 10 * time.Minute
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = 250 * time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Second
	}

	return &Manager{config: cfg}
}

// Resource returns the lease resource name this manager guards.
func (m *Manager) Resource() string {
	return m.config.Resource
}

// LeaseDuration returns the configured lease duration.
func (m *Manager) LeaseDuration() time.Duration {
	return m.config.LeaseDuration
}

// Acquire retries non-blocking acquisition with capped exponential backoff
// and jitter until it wins, the abandon predicate reports true, the context
// is cancelled, or AcquireTimeout elapses.
//
// The abandon predicate is checked after every busy attempt; replicas use it
// to stop competing once the ledger shows no pending work. When it reports
// true, Acquire returns a zero lease and abandoned == true.
func (m *Manager) Acquire(ctx context.Context, holderID string, abandon func(context.Context) (bool, error)) (lease migrator.Lease, abandoned bool, err error) {
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(m.config.InitialBackoff),
		backoff.WithMaxInterval(m.config.MaxBackoff),
		backoff.WithMaxElapsedTime(m.config.AcquireTimeout),
	)

	for {
		lease, err := m.config.Store.TryAcquire(ctx, m.config.Resource, holderID, m.config.LeaseDuration)
		if err == nil {
			if m.config.Logger != nil {
				m.config.Logger.Info(ctx, "lease acquired",
					"resource", m.config.Resource,
					"holderID", holderID,
					"fencingToken", lease.FencingToken)
			}
			return lease, false, nil
		}
		if !errors.Is(err, migrator.ErrLeaseBusy) {
			return migrator.Lease{}, false, fmt.Errorf("failed to acquire lease: %w", err)
		}

		if abandon != nil {
			done, aerr := abandon(ctx)
			if aerr != nil {
				return migrator.Lease{}, false, fmt.Errorf("abandon check failed: %w", aerr)
			}
			if done {
				if m.config.Logger != nil {
					m.config.Logger.Info(ctx, "abandoning lease acquisition, no pending work",
						"resource", m.config.Resource,
						"holderID", holderID)
				}
				return migrator.Lease{}, true, nil
			}
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return migrator.Lease{}, false, migrator.ErrLockAcquisitionTimeout
		}

		select {
		case <-ctx.Done():
			return migrator.Lease{}, false, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Keep runs a renewal loop until the context is cancelled, renewing at a
// third of the lease duration. It returns nil on cancellation and
// migrator.ErrLeaseExpired (wrapped) if a renewal is refused, meaning the
// lease may already belong to another replica.
func (m *Manager) Keep(ctx context.Context, lease migrator.Lease) error {
	interval := m.config.LeaseDuration / 3
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	current := lease
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			renewed, err := m.config.Store.Renew(ctx, m.config.Resource, current, m.config.LeaseDuration)
			if err != nil {
				if m.config.Logger != nil {
					m.config.Logger.Error(ctx, "lease renewal failed",
						"resource", m.config.Resource,
						"holderID", current.HolderID,
						"error", err)
				}
				return fmt.Errorf("lease renewal failed: %w", err)
			}
			current = renewed

			if m.config.Logger != nil {
				m.config.Logger.Debug(ctx, "lease renewed",
					"resource", m.config.Resource,
					"holderID", current.HolderID,
					"expiresAt", current.ExpiresAt)
			}
		}
	}
}

// Release gives up the lease.
func (m *Manager) Release(ctx context.Context, lease migrator.Lease) error {
	if err := m.config.Store.Release(ctx, m.config.Resource, lease); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}

	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "lease released",
			"resource", m.config.Resource,
			"holderID", lease.HolderID,
			"fencingToken", lease.FencingToken)
	}
	return nil
}
