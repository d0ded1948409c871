package schema

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	migrator "github.com/daybook/migrate-orchestrator"
	"github.com/daybook/migrate-orchestrator/engine"
)

// Config holds configuration for the schema Adapter.
type Config struct {
	// DB is the database connection migrations are applied to (required).
	DB *sql.DB

	// Logger is for observability (optional).
	Logger migrator.Logger
}

// Adapter applies one versioned schema step at a time against the relational
// store using the incremental engine's single-step primitive: each step's
// statement batch runs inside its own transaction.
type Adapter struct {
	config Config
}

// Compile-time check that Adapter implements engine.Adapter.
var _ engine.Adapter = (*Adapter)(nil)

// New creates a new schema Adapter with the given configuration.
func New(cfg Config) *Adapter {
	return &Adapter{config: cfg}
}

// Apply executes the step's SQL in a transaction. A commit maps to a
// succeeded outcome; any execution or commit error maps to a failed outcome
// carrying the database error text as the failure reason.
func (a *Adapter) Apply(ctx context.Context, step migrator.Step) (engine.Outcome, error) {
	if a.config.Logger != nil {
		a.config.Logger.Info(ctx, "applying schema step",
			"sequence", step.Sequence,
			"description", step.Description)
	}

	started := time.Now()
	err := a.applyTx(ctx, step)
	duration := time.Since(started)

	if err != nil {
		return engine.Outcome{Succeeded: false, Duration: duration}, &engine.Failure{
			Engine:   migrator.EngineSchema,
			Sequence: step.Sequence,
			Reason:   err.Error(),
		}
	}

	return engine.Outcome{Succeeded: true, Duration: duration}, nil
}

func (a *Adapter) applyTx(ctx context.Context, step migrator.Step) error {
	tx, err := a.config.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}
