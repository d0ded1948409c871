package sqlstore

import "fmt"

// MigrationUp returns the SQL to create the coordination tables for the
// given dialect. The ledger table holds one row per application attempt; the
// lease table holds one row per lockable resource.
//
// PostgreSQL and SQLite enforce the single-succeeded-entry invariant with a
// partial unique index. MySQL has no partial indexes, so the store enforces
// it at write time there.
func MigrationUp(dialect Dialect, config TableConfig) string {
	switch dialect {
	case MySQL:
		return fmt.Sprintf(`-- Migration ledger: one row per application attempt, append-only
CREATE TABLE IF NOT EXISTS %[1]s (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    engine VARCHAR(32) NOT NULL,
    sequence BIGINT NOT NULL,
    checksum_at_apply VARCHAR(128) NOT NULL,
    started_at DATETIME(6) NOT NULL,
    finished_at DATETIME(6) NOT NULL,
    outcome VARCHAR(16) NOT NULL,
    fencing_token BIGINT NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Index for step lookups
CREATE INDEX idx_%[1]s_step ON %[1]s (engine, sequence);

-- Lease rows: one per lockable resource, updated by compare-and-swap
CREATE TABLE IF NOT EXISTS %[2]s (
    resource VARCHAR(191) PRIMARY KEY,
    holder_id VARCHAR(191) NOT NULL DEFAULT '',
    fencing_token BIGINT NOT NULL DEFAULT 0,
    expires_at DATETIME(6) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`, config.LedgerTable, config.LeaseTable)

	case SQLite:
		return fmt.Sprintf(`-- Migration ledger: one row per application attempt, append-only
CREATE TABLE IF NOT EXISTS %[1]s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    engine TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    checksum_at_apply TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    outcome TEXT NOT NULL,
    fencing_token INTEGER NOT NULL
);

-- Index for step lookups
CREATE INDEX IF NOT EXISTS idx_%[1]s_step ON %[1]s (engine, sequence);

-- At most one succeeded entry per (engine, sequence)
CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_succeeded
    ON %[1]s (engine, sequence) WHERE outcome = 'succeeded';

-- Lease rows: one per lockable resource, updated by compare-and-swap
CREATE TABLE IF NOT EXISTS %[2]s (
    resource TEXT PRIMARY KEY,
    holder_id TEXT NOT NULL DEFAULT '',
    fencing_token INTEGER NOT NULL DEFAULT 0,
    expires_at TIMESTAMP NOT NULL
);
`, config.LedgerTable, config.LeaseTable)

	default:
		return fmt.Sprintf(`-- Migration ledger: one row per application attempt, append-only
CREATE TABLE IF NOT EXISTS %[1]s (
    id BIGSERIAL PRIMARY KEY,
    engine TEXT NOT NULL,
    sequence BIGINT NOT NULL,
    checksum_at_apply TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    outcome TEXT NOT NULL,
    fencing_token BIGINT NOT NULL
);

-- Index for step lookups
CREATE INDEX IF NOT EXISTS idx_%[1]s_step ON %[1]s (engine, sequence);

-- At most one succeeded entry per (engine, sequence)
CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_succeeded
    ON %[1]s (engine, sequence) WHERE outcome = 'succeeded';

-- Lease rows: one per lockable resource, updated by compare-and-swap
CREATE TABLE IF NOT EXISTS %[2]s (
    resource TEXT PRIMARY KEY,
    holder_id TEXT NOT NULL DEFAULT '',
    fencing_token BIGINT NOT NULL DEFAULT 0,
    expires_at TIMESTAMPTZ NOT NULL
);
`, config.LedgerTable, config.LeaseTable)
	}
}

// MigrationDown returns the SQL to drop the coordination tables.
func MigrationDown(config TableConfig) string {
	return fmt.Sprintf(`DROP TABLE IF EXISTS %s;
DROP TABLE IF EXISTS %s;
`, config.LedgerTable, config.LeaseTable)
}
