package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrator "github.com/daybook/migrate-orchestrator"
	"github.com/daybook/migrate-orchestrator/store"
)

func succeededEntry(engine migrator.EngineKind, sequence int64) migrator.LedgerEntry {
	now := time.Now()
	return migrator.LedgerEntry{
		Engine:          engine,
		Sequence:        sequence,
		ChecksumAtApply: "abc123",
		StartedAt:       now,
		FinishedAt:      now,
		Outcome:         migrator.OutcomeSucceeded,
	}
}

func TestStore_RecordAndIsApplied(t *testing.T) {
	ctx := context.Background()
	s := New()

	applied, err := s.IsApplied(ctx, migrator.EngineSchema, 1)
	require.NoError(t, err)
	assert.False(t, applied)

	require.NoError(t, s.Record(ctx, succeededEntry(migrator.EngineSchema, 1), 1))

	applied, err = s.IsApplied(ctx, migrator.EngineSchema, 1)
	require.NoError(t, err)
	assert.True(t, applied)

	entry, found, err := s.SucceededEntry(ctx, migrator.EngineSchema, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "abc123", entry.ChecksumAtApply)
	assert.Equal(t, int64(1), entry.FencingToken)
}

func TestStore_FailedEntryDoesNotCountAsApplied(t *testing.T) {
	ctx := context.Background()
	s := New()

	failed := succeededEntry(migrator.EngineSchema, 1)
	failed.Outcome = migrator.OutcomeFailed
	require.NoError(t, s.Record(ctx, failed, 1))

	applied, err := s.IsApplied(ctx, migrator.EngineSchema, 1)
	require.NoError(t, err)
	assert.False(t, applied)

	// A later succeeded entry for the same step supersedes the failure.
	require.NoError(t, s.Record(ctx, succeededEntry(migrator.EngineSchema, 1), 2))

	applied, err = s.IsApplied(ctx, migrator.EngineSchema, 1)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Len(t, s.Entries(), 2)
}

func TestStore_RecordRejectsStaleFencingToken(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Record(ctx, succeededEntry(migrator.EngineSchema, 1), 5))

	err := s.Record(ctx, succeededEntry(migrator.EngineSchema, 2), 4)

	assert.ErrorIs(t, err, migrator.ErrStaleFencingToken)
	assert.Len(t, s.Entries(), 1)
}

func TestStore_RecordRejectsDuplicateSucceeded(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Record(ctx, succeededEntry(migrator.EngineSchema, 1), 1))

	err := s.Record(ctx, succeededEntry(migrator.EngineSchema, 1), 2)

	assert.ErrorIs(t, err, store.ErrDuplicateEntry)
}

func TestStore_PendingCount(t *testing.T) {
	ctx := context.Background()
	s := New()

	steps := []migrator.Step{
		{Engine: migrator.EngineStructural, Sequence: 1},
		{Engine: migrator.EngineSchema, Sequence: 1},
		{Engine: migrator.EngineSchema, Sequence: 2},
	}

	pending, err := s.PendingCount(ctx, steps)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)

	require.NoError(t, s.Record(ctx, succeededEntry(migrator.EngineSchema, 1), 1))

	pending, err = s.PendingCount(ctx, steps)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
}

func TestStore_TryAcquire(t *testing.T) {
	ctx := context.Background()

	t.Run("first acquisition wins with token 1", func(t *testing.T) {
		s := New()

		lease, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Minute)

		require.NoError(t, err)
		assert.Equal(t, "replica-a", lease.HolderID)
		assert.Equal(t, int64(1), lease.FencingToken)
		assert.True(t, lease.ExpiresAt.After(time.Now()))
	})

	t.Run("held lease refuses other holders", func(t *testing.T) {
		s := New()
		_, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Minute)
		require.NoError(t, err)

		_, err = s.TryAcquire(ctx, "startup-migrations", "replica-b", time.Minute)

		assert.ErrorIs(t, err, migrator.ErrLeaseBusy)
	})

	t.Run("expired lease can be taken with a greater token", func(t *testing.T) {
		s := New()
		first, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Millisecond)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)

		second, err := s.TryAcquire(ctx, "startup-migrations", "replica-b", time.Minute)

		require.NoError(t, err)
		assert.Greater(t, second.FencingToken, first.FencingToken)
	})

	t.Run("released lease can be taken with a greater token", func(t *testing.T) {
		s := New()
		first, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.Release(ctx, "startup-migrations", first))

		second, err := s.TryAcquire(ctx, "startup-migrations", "replica-b", time.Minute)

		require.NoError(t, err)
		assert.Greater(t, second.FencingToken, first.FencingToken)
	})

	t.Run("resources are independent", func(t *testing.T) {
		s := New()
		_, err := s.TryAcquire(ctx, "resource-a", "replica-a", time.Minute)
		require.NoError(t, err)

		_, err = s.TryAcquire(ctx, "resource-b", "replica-b", time.Minute)

		assert.NoError(t, err)
	})
}

func TestStore_Renew(t *testing.T) {
	ctx := context.Background()

	t.Run("extends a held lease", func(t *testing.T) {
		s := New()
		lease, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Minute)
		require.NoError(t, err)

		renewed, err := s.Renew(ctx, "startup-migrations", lease, 2*time.Minute)

		require.NoError(t, err)
		assert.Equal(t, lease.FencingToken, renewed.FencingToken)
		assert.True(t, renewed.ExpiresAt.After(lease.ExpiresAt))
	})

	t.Run("refuses an expired lease", func(t *testing.T) {
		s := New()
		lease, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Millisecond)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)

		_, err = s.Renew(ctx, "startup-migrations", lease, time.Minute)

		assert.ErrorIs(t, err, migrator.ErrLeaseExpired)
	})

	t.Run("refuses a superseded lease", func(t *testing.T) {
		s := New()
		old, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Millisecond)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		_, err = s.TryAcquire(ctx, "startup-migrations", "replica-b", time.Minute)
		require.NoError(t, err)

		_, err = s.Renew(ctx, "startup-migrations", old, time.Minute)

		assert.ErrorIs(t, err, migrator.ErrLeaseExpired)
	})
}

func TestStore_Release(t *testing.T) {
	ctx := context.Background()

	t.Run("releasing a superseded lease is a no-op", func(t *testing.T) {
		s := New()
		old, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Millisecond)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		current, err := s.TryAcquire(ctx, "startup-migrations", "replica-b", time.Minute)
		require.NoError(t, err)

		require.NoError(t, s.Release(ctx, "startup-migrations", old))

		// replica-b's lease is untouched.
		_, err = s.Renew(ctx, "startup-migrations", current, time.Minute)
		assert.NoError(t, err)
	})

	t.Run("releasing an unknown resource is a no-op", func(t *testing.T) {
		s := New()

		assert.NoError(t, s.Release(ctx, "never-acquired", migrator.Lease{HolderID: "replica-a"}))
	})
}

func TestStore_FencingTokensStrictlyIncreaseAcrossHolders(t *testing.T) {
	ctx := context.Background()
	s := New()

	var last int64
	for i := 0; i < 5; i++ {
		lease, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.Release(ctx, "startup-migrations", lease))

		assert.Greater(t, lease.FencingToken, last)
		last = lease.FencingToken
	}
}
