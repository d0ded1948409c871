package engine

import (
	"context"
	"fmt"
	"time"

	migrator "github.com/daybook/migrate-orchestrator"
)

// Outcome reports the result of applying a single step.
type Outcome struct {
	// Succeeded is true when the engine signalled success.
	Succeeded bool

	// Duration is how long the application took.
	Duration time.Duration
}

// Adapter is the uniform invocation contract wrapping a migration engine.
// Implementations map the engine's native success/failure signal onto
// Outcome and *Failure. Re-invoking Apply for the same step is only safe
// after a failed outcome and only by the same lease holder; a failure may
// leave the store in a step-specific intermediate state.
type Adapter interface {
	Apply(ctx context.Context, step migrator.Step) (Outcome, error)
}

// Failure is the error returned when an engine reports a step as failed.
type Failure struct {
	// Engine and Sequence identify the failing step.
	Engine   migrator.EngineKind
	Sequence int64

	// Reason is the captured diagnostic output.
	Reason string
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("engine failure: %s sequence %d: %s", f.Engine, f.Sequence, f.Reason)
}
