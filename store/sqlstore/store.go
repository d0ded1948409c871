package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	migrator "github.com/daybook/migrate-orchestrator"
	"github.com/daybook/migrate-orchestrator/store"
)

// Store is a database/sql implementation of LedgerStore and LeaseStore.
// It works against PostgreSQL, MySQL, and SQLite; the dialect only affects
// placeholder style, row locking, and the bootstrap DDL.
type Store struct {
	db      *sql.DB
	dialect Dialect
	tables  TableConfig
}

// New creates a new SQL store with default table names.
func New(db *sql.DB, dialect Dialect) *Store {
	return NewWithConfig(db, dialect, DefaultTableConfig())
}

// NewWithConfig creates a new SQL store with custom table names.
func NewWithConfig(db *sql.DB, dialect Dialect, tables TableConfig) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		tables:  tables,
	}
}

// EnsureSchema creates the coordination tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.tables.Validate(); err != nil {
		return fmt.Errorf("invalid table configuration: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, MigrationUp(s.dialect, s.tables)); err != nil {
		return fmt.Errorf("failed to create coordination tables: %w", err)
	}
	return nil
}

// IsApplied reports whether a succeeded entry exists for the step.
func (s *Store) IsApplied(ctx context.Context, engine migrator.EngineKind, sequence int64) (bool, error) {
	query := s.dialect.rebind(fmt.Sprintf(`
		SELECT COUNT(1) FROM %s
		WHERE engine = ? AND sequence = ? AND outcome = 'succeeded'
	`, s.tables.LedgerTable))

	var count int
	if err := s.db.QueryRowContext(ctx, query, string(engine), sequence).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to query applied state: %w", err)
	}
	return count > 0, nil
}

// SucceededEntry returns the succeeded entry for the step, if any.
func (s *Store) SucceededEntry(ctx context.Context, engine migrator.EngineKind, sequence int64) (migrator.LedgerEntry, bool, error) {
	query := s.dialect.rebind(fmt.Sprintf(`
		SELECT engine, sequence, checksum_at_apply, started_at, finished_at, outcome, fencing_token
		FROM %s
		WHERE engine = ? AND sequence = ? AND outcome = 'succeeded'
	`, s.tables.LedgerTable))

	var entry migrator.LedgerEntry
	err := s.db.QueryRowContext(ctx, query, string(engine), sequence).Scan(
		&entry.Engine,
		&entry.Sequence,
		&entry.ChecksumAtApply,
		&entry.StartedAt,
		&entry.FinishedAt,
		&entry.Outcome,
		&entry.FencingToken,
	)
	if err == sql.ErrNoRows {
		return migrator.LedgerEntry{}, false, nil
	}
	if err != nil {
		return migrator.LedgerEntry{}, false, fmt.Errorf("failed to query succeeded entry: %w", err)
	}
	return entry, true, nil
}

// Record appends an entry after the fencing check. Concurrent writers for
// the same resource never occur by construction (only the lease holder
// writes), but a resurrected stale holder is still rejected here: a token
// lower than the highest token in the ledger fails with
// migrator.ErrStaleFencingToken and leaves no row behind.
func (s *Store) Record(ctx context.Context, entry migrator.LedgerEntry, fencingToken int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin record transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	maxQuery := s.dialect.rebind(fmt.Sprintf(
		`SELECT COALESCE(MAX(fencing_token), 0) FROM %s`, s.tables.LedgerTable))

	var maxToken int64
	if err := tx.QueryRowContext(ctx, maxQuery).Scan(&maxToken); err != nil {
		return fmt.Errorf("failed to read fencing watermark: %w", err)
	}
	if fencingToken < maxToken {
		return migrator.ErrStaleFencingToken
	}

	if entry.Outcome == migrator.OutcomeSucceeded {
		dupQuery := s.dialect.rebind(fmt.Sprintf(`
			SELECT COUNT(1) FROM %s
			WHERE engine = ? AND sequence = ? AND outcome = 'succeeded'
		`, s.tables.LedgerTable))

		var count int
		if err := tx.QueryRowContext(ctx, dupQuery, string(entry.Engine), entry.Sequence).Scan(&count); err != nil {
			return fmt.Errorf("failed to check for duplicate entry: %w", err)
		}
		if count > 0 {
			return store.ErrDuplicateEntry
		}
	}

	insert := s.dialect.rebind(fmt.Sprintf(`
		INSERT INTO %s (engine, sequence, checksum_at_apply, started_at, finished_at, outcome, fencing_token)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.tables.LedgerTable))

	_, err = tx.ExecContext(ctx, insert,
		string(entry.Engine),
		entry.Sequence,
		entry.ChecksumAtApply,
		entry.StartedAt,
		entry.FinishedAt,
		string(entry.Outcome),
		fencingToken,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger entry: %w", err)
	}
	return nil
}

// PendingCount returns how many of the given steps have no succeeded entry.
func (s *Store) PendingCount(ctx context.Context, steps []migrator.Step) (int, error) {
	pending := 0
	for _, step := range steps {
		applied, err := s.IsApplied(ctx, step.Engine, step.Sequence)
		if err != nil {
			return 0, err
		}
		if !applied {
			pending++
		}
	}
	return pending, nil
}

// TryAcquire attempts a non-blocking acquisition of the named resource.
// The lease row is read under a row lock and updated in the same
// transaction, so two replicas racing for an expired lease cannot both win.
func (s *Store) TryAcquire(ctx context.Context, resource, holderID string, duration time.Duration) (migrator.Lease, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return migrator.Lease{}, fmt.Errorf("failed to begin acquire transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	selectQuery := s.dialect.rebind(fmt.Sprintf(`
		SELECT holder_id, fencing_token, expires_at FROM %s WHERE resource = ?%s
	`, s.tables.LeaseTable, s.dialect.forUpdate()))

	now := time.Now().UTC()
	expiresAt := now.Add(duration)

	var (
		holder     string
		token      int64
		rowExpires time.Time
	)
	err = tx.QueryRowContext(ctx, selectQuery, resource).Scan(&holder, &token, &rowExpires)
	switch {
	case err == sql.ErrNoRows:
		insert := s.dialect.rebind(fmt.Sprintf(`
			INSERT INTO %s (resource, holder_id, fencing_token, expires_at)
			VALUES (?, ?, ?, ?)
		`, s.tables.LeaseTable))
		if _, err := tx.ExecContext(ctx, insert, resource, holderID, int64(1), expiresAt); err != nil {
			return migrator.Lease{}, fmt.Errorf("failed to insert lease row: %w", err)
		}
		token = 1

	case err != nil:
		return migrator.Lease{}, fmt.Errorf("failed to read lease row: %w", err)

	default:
		if holder != "" && holder != holderID && rowExpires.After(now) {
			return migrator.Lease{}, migrator.ErrLeaseBusy
		}

		token++
		update := s.dialect.rebind(fmt.Sprintf(`
			UPDATE %s SET holder_id = ?, fencing_token = ?, expires_at = ? WHERE resource = ?
		`, s.tables.LeaseTable))
		if _, err := tx.ExecContext(ctx, update, holderID, token, expiresAt, resource); err != nil {
			return migrator.Lease{}, fmt.Errorf("failed to update lease row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return migrator.Lease{}, fmt.Errorf("failed to commit lease acquisition: %w", err)
	}

	return migrator.Lease{HolderID: holderID, FencingToken: token, ExpiresAt: expiresAt}, nil
}

// Renew extends the lease if it is still held as given.
// Returns migrator.ErrLeaseExpired otherwise.
func (s *Store) Renew(ctx context.Context, resource string, lease migrator.Lease, duration time.Duration) (migrator.Lease, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(duration)

	update := s.dialect.rebind(fmt.Sprintf(`
		UPDATE %s SET expires_at = ?
		WHERE resource = ? AND holder_id = ? AND fencing_token = ? AND expires_at > ?
	`, s.tables.LeaseTable))

	res, err := s.db.ExecContext(ctx, update, expiresAt, resource, lease.HolderID, lease.FencingToken, now)
	if err != nil {
		return migrator.Lease{}, fmt.Errorf("failed to renew lease: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return migrator.Lease{}, fmt.Errorf("failed to read renew result: %w", err)
	}
	if affected == 0 {
		return migrator.Lease{}, migrator.ErrLeaseExpired
	}

	lease.ExpiresAt = expiresAt
	return lease, nil
}

// Release gives up the lease. A lease that already expired or was reassigned
// is released without error; the fencing token stays in the row so it keeps
// increasing across acquisitions.
func (s *Store) Release(ctx context.Context, resource string, lease migrator.Lease) error {
	update := s.dialect.rebind(fmt.Sprintf(`
		UPDATE %s SET holder_id = ''
		WHERE resource = ? AND holder_id = ? AND fencing_token = ?
	`, s.tables.LeaseTable))

	if _, err := s.db.ExecContext(ctx, update, resource, lease.HolderID, lease.FencingToken); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
