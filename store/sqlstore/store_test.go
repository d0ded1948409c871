package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrator "github.com/daybook/migrate-orchestrator"
	"github.com/daybook/migrate-orchestrator/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "coordination.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db, SQLite)
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func testEntry(engine migrator.EngineKind, sequence int64, outcome migrator.Outcome) migrator.LedgerEntry {
	now := time.Now().UTC()
	return migrator.LedgerEntry{
		Engine:          engine,
		Sequence:        sequence,
		ChecksumAtApply: "checksum-" + string(engine),
		StartedAt:       now,
		FinishedAt:      now,
		Outcome:         outcome,
	}
}

func TestStore_EnsureSchemaIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	assert.NoError(t, s.EnsureSchema(context.Background()))
}

func TestStore_EnsureSchemaRejectsBadTableNames(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "coordination.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewWithConfig(db, SQLite, TableConfig{LedgerTable: "bad name", LeaseTable: "migration_leases"})

	assert.ErrorContains(t, s.EnsureSchema(context.Background()), "invalid table configuration")
}

func TestStore_RecordAndLookup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	applied, err := s.IsApplied(ctx, migrator.EngineSchema, 1)
	require.NoError(t, err)
	assert.False(t, applied)

	require.NoError(t, s.Record(ctx, testEntry(migrator.EngineSchema, 1, migrator.OutcomeSucceeded), 1))

	applied, err = s.IsApplied(ctx, migrator.EngineSchema, 1)
	require.NoError(t, err)
	assert.True(t, applied)

	entry, found, err := s.SucceededEntry(ctx, migrator.EngineSchema, 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, migrator.EngineSchema, entry.Engine)
	assert.Equal(t, int64(1), entry.Sequence)
	assert.Equal(t, "checksum-schema", entry.ChecksumAtApply)
	assert.Equal(t, int64(1), entry.FencingToken)
}

func TestStore_SucceededEntryNotFound(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.SucceededEntry(context.Background(), migrator.EngineStructural, 99)

	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_RecordRejectsStaleFencingToken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Record(ctx, testEntry(migrator.EngineSchema, 1, migrator.OutcomeSucceeded), 7))

	err := s.Record(ctx, testEntry(migrator.EngineSchema, 2, migrator.OutcomeSucceeded), 6)

	assert.ErrorIs(t, err, migrator.ErrStaleFencingToken)

	applied, err := s.IsApplied(ctx, migrator.EngineSchema, 2)
	require.NoError(t, err)
	assert.False(t, applied, "rejected write must leave no row behind")
}

func TestStore_RecordRejectsDuplicateSucceeded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Record(ctx, testEntry(migrator.EngineSchema, 1, migrator.OutcomeSucceeded), 1))

	err := s.Record(ctx, testEntry(migrator.EngineSchema, 1, migrator.OutcomeSucceeded), 2)

	assert.ErrorIs(t, err, store.ErrDuplicateEntry)
}

func TestStore_FailedThenSucceeded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Record(ctx, testEntry(migrator.EngineStructural, 1, migrator.OutcomeFailed), 1))

	applied, err := s.IsApplied(ctx, migrator.EngineStructural, 1)
	require.NoError(t, err)
	assert.False(t, applied)

	require.NoError(t, s.Record(ctx, testEntry(migrator.EngineStructural, 1, migrator.OutcomeSucceeded), 2))

	applied, err = s.IsApplied(ctx, migrator.EngineStructural, 1)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestStore_PendingCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	steps := []migrator.Step{
		{Engine: migrator.EngineStructural, Sequence: 1},
		{Engine: migrator.EngineSchema, Sequence: 1},
	}

	pending, err := s.PendingCount(ctx, steps)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	require.NoError(t, s.Record(ctx, testEntry(migrator.EngineStructural, 1, migrator.OutcomeSucceeded), 1))

	pending, err = s.PendingCount(ctx, steps)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestStore_TryAcquire(t *testing.T) {
	ctx := context.Background()

	t.Run("first acquisition inserts the lease row", func(t *testing.T) {
		s := newTestStore(t)

		lease, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Minute)

		require.NoError(t, err)
		assert.Equal(t, "replica-a", lease.HolderID)
		assert.Equal(t, int64(1), lease.FencingToken)
	})

	t.Run("held lease refuses other holders", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Minute)
		require.NoError(t, err)

		_, err = s.TryAcquire(ctx, "startup-migrations", "replica-b", time.Minute)

		assert.ErrorIs(t, err, migrator.ErrLeaseBusy)
	})

	t.Run("expired lease is taken over with a greater token", func(t *testing.T) {
		s := newTestStore(t)
		first, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Millisecond)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)

		second, err := s.TryAcquire(ctx, "startup-migrations", "replica-b", time.Minute)

		require.NoError(t, err)
		assert.Greater(t, second.FencingToken, first.FencingToken)
	})

	t.Run("released lease keeps the token counter", func(t *testing.T) {
		s := newTestStore(t)
		first, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.Release(ctx, "startup-migrations", first))

		second, err := s.TryAcquire(ctx, "startup-migrations", "replica-b", time.Minute)

		require.NoError(t, err)
		assert.Equal(t, first.FencingToken+1, second.FencingToken)
	})
}

func TestStore_Renew(t *testing.T) {
	ctx := context.Background()

	t.Run("extends a held lease", func(t *testing.T) {
		s := newTestStore(t)
		lease, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Minute)
		require.NoError(t, err)

		renewed, err := s.Renew(ctx, "startup-migrations", lease, 2*time.Minute)

		require.NoError(t, err)
		assert.Equal(t, lease.FencingToken, renewed.FencingToken)
		assert.True(t, renewed.ExpiresAt.After(lease.ExpiresAt))
	})

	t.Run("refuses an expired lease", func(t *testing.T) {
		s := newTestStore(t)
		lease, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Millisecond)
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)

		_, err = s.Renew(ctx, "startup-migrations", lease, time.Minute)

		assert.ErrorIs(t, err, migrator.ErrLeaseExpired)
	})

	t.Run("refuses a superseded lease", func(t *testing.T) {
		s := newTestStore(t)
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
	s := newTestStore(t)

	lease, err := s.TryAcquire(ctx, "startup-migrations", "replica-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "startup-migrations", lease))

	// The resource is immediately acquirable by someone else.
	_, err = s.TryAcquire(ctx, "startup-migrations", "replica-b", time.Minute)
	assert.NoError(t, err)

	// Releasing again is harmless.
	assert.NoError(t, s.Release(ctx, "startup-migrations", lease))
}
