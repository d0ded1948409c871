// Package integration exercises the full startup path: step definitions on
// disk, a SQLite-backed coordination store, real engine adapters, and several
// replicas of different roles starting at once.
package integration

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	migrator "github.com/daybook/migrate-orchestrator"
	"github.com/daybook/migrate-orchestrator/dispatcher"
	"github.com/daybook/migrate-orchestrator/engine"
	"github.com/daybook/migrate-orchestrator/engine/schema"
	"github.com/daybook/migrate-orchestrator/engine/structural"
	"github.com/daybook/migrate-orchestrator/lock"
	"github.com/daybook/migrate-orchestrator/plan"
	"github.com/daybook/migrate-orchestrator/steps"
	"github.com/daybook/migrate-orchestrator/store/sqlstore"
)

type fixture struct {
	db    *sql.DB
	store *sqlstore.Store
	steps []migrator.Step
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := sql.Open("sqlite3", filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// SQLite serializes writers per connection; a single connection keeps
	// concurrent replicas from tripping over table locks.
	db.SetMaxOpenConns(1)

	st := sqlstore.New(db, sqlstore.SQLite)
	require.NoError(t, st.EnsureSchema(context.Background()))

	manifest := filepath.Join(dir, "structural.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
structural:
  - sequence: 1
    description: reorganize media storage
    command: /bin/sh
    args: ["-c", "exit 0"]
`), 0o600))

	schemaDir := filepath.Join(dir, "versions")
	require.NoError(t, os.Mkdir(schemaDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "0001_create_entries.sql"),
		[]byte("CREATE TABLE entries (id INTEGER PRIMARY KEY, title TEXT NOT NULL);"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "0002_create_moods.sql"),
		[]byte("CREATE TABLE moods (id INTEGER PRIMARY KEY, name TEXT NOT NULL);"), 0o600))

	defs, err := steps.Load(manifest, schemaDir)
	require.NoError(t, err)
	require.Len(t, defs, 3)

	return &fixture{db: db, store: st, steps: defs}
}

func (f *fixture) newDispatcher(role migrator.Role, replicaID string) *dispatcher.Dispatcher {
	return dispatcher.New(dispatcher.Config{
		Role:      role,
		ReplicaID: replicaID,
		Ledger:    f.store,
		Locker: lock.New(lock.Config{
			Store:          f.store,
			LeaseDuration:  time.Second,
			AcquireTimeout: 10 * time.Second,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     20 * time.Millisecond,
		}),
		Resolver: plan.New(plan.Config{Ledger: f.store}),
		Adapters: map[migrator.EngineKind]engine.Adapter{
			migrator.EngineStructural: structural.New(structural.Config{}),
			migrator.EngineSchema:     schema.New(schema.Config{DB: f.db}),
		},
		Steps:         f.steps,
		PollInterval:  10 * time.Millisecond,
		MaxLedgerWait: 10 * time.Second,
	})
}

func TestStartup_SingleAppReplica(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d := f.newDispatcher(migrator.RoleApp, "app-0")
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, migrator.StateReady, d.State())

	// The schema steps really ran against the application database.
	var count int
	require.NoError(t, f.db.QueryRow("SELECT COUNT(1) FROM entries").Scan(&count))
	require.NoError(t, f.db.QueryRow("SELECT COUNT(1) FROM moods").Scan(&count))

	// Every step is in the ledger and nothing is pending.
	pending, err := f.store.PendingCount(ctx, f.steps)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestStartup_MixedFleet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	replicas := []*dispatcher.Dispatcher{
		f.newDispatcher(migrator.RoleApp, "app-0"),
		f.newDispatcher(migrator.RoleApp, "app-1"),
		f.newDispatcher(migrator.RoleCeleryWorker, "worker-0"),
		f.newDispatcher(migrator.RoleCeleryBeat, "beat-0"),
		f.newDispatcher(migrator.RoleAdminCLI, "admin-0"),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(replicas))
	for i, d := range replicas {
		wg.Add(1)
		go func(i int, d *dispatcher.Dispatcher) {
			defer wg.Done()
			errs[i] = d.Run(ctx)
		}(i, d)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "replica %s", replicas[i].ReplicaID())
		assert.Equal(t, migrator.StateReady, replicas[i].State())
	}

	pending, err := f.store.PendingCount(ctx, f.steps)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestStartup_RestartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.newDispatcher(migrator.RoleApp, "app-0")
	require.NoError(t, first.Run(ctx))

	// A restart of the same replica finds everything applied and goes
	// straight to ready without re-running any step.
	second := f.newDispatcher(migrator.RoleApp, "app-0")
	require.NoError(t, second.Run(ctx))
	assert.Equal(t, migrator.StateReady, second.State())

	// Re-running a schema step would fail on the existing tables, so an
	// intact database proves nothing ran twice.
	var count int
	require.NoError(t, f.db.QueryRow("SELECT COUNT(1) FROM entries").Scan(&count))
}

func TestStartup_EditedStepIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.newDispatcher(migrator.RoleApp, "app-0")
	require.NoError(t, first.Run(ctx))

	// Someone edits an already-applied schema file in place.
	edited := make([]migrator.Step, len(f.steps))
	copy(edited, f.steps)
	for i := range edited {
		if edited[i].Engine == migrator.EngineSchema && edited[i].Sequence == 1 {
			edited[i].Checksum = "different-after-edit"
		}
	}
	f.steps = edited

	second := f.newDispatcher(migrator.RoleApp, "app-1")
	err := second.Run(ctx)

	assert.ErrorIs(t, err, migrator.ErrChecksumConflict)
	assert.Equal(t, migrator.StateFailed, second.State())
}
