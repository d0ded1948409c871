package plan

import (
	"context"
	"fmt"
	"sort"

	migrator "github.com/daybook/migrate-orchestrator"
	"github.com/daybook/migrate-orchestrator/store"
)

// Config holds configuration for the Resolver.
type Config struct {
	// Ledger is the ledger store consulted for applied steps (required).
	Ledger store.LedgerStore

	// Logger is for observability (optional).
	Logger migrator.Logger
}

// Resolver computes the ordered set of pending steps by diffing the loaded
// step definitions against the ledger.
type Resolver struct {
	config Config
}

// New creates a new Resolver with the given configuration.
func New(cfg Config) *Resolver {
	return &Resolver{config: cfg}
}

// Resolve returns the execution plan for the given step definitions.
// All pending structural steps precede any pending schema step, because
// schema steps may assume the post-structural data layout. Within an engine
// steps execute strictly in sequence order.
//
// Resolve fails with migrator.ErrNonContiguousPlan when an engine's defined
// sequences have a hole or a duplicate, or when a step earlier in the
// sequence is pending while a later one already succeeded. It fails with
// migrator.ErrChecksumConflict when a defined step's checksum differs from
// the checksum recorded by its succeeded ledger entry; that is a hard stop,
// never retried.
func (r *Resolver) Resolve(ctx context.Context, steps []migrator.Step) (migrator.Plan, error) {
	byEngine := make(map[migrator.EngineKind][]migrator.Step)
	for _, step := range steps {
		byEngine[step.Engine] = append(byEngine[step.Engine], step)
	}

	var ordered []migrator.Step
	for _, engine := range []migrator.EngineKind{migrator.EngineStructural, migrator.EngineSchema} {
		pending, err := r.pendingForEngine(ctx, engine, byEngine[engine])
		if err != nil {
			return migrator.Plan{}, err
		}
		ordered = append(ordered, pending...)
	}

	if r.config.Logger != nil {
		r.config.Logger.Info(ctx, "plan resolved",
			"definedSteps", len(steps),
			"pendingSteps", len(ordered))
	}

	return migrator.Plan{Steps: ordered}, nil
}

func (r *Resolver) pendingForEngine(ctx context.Context, engine migrator.EngineKind, steps []migrator.Step) ([]migrator.Step, error) {
	if len(steps) == 0 {
		return nil, nil
	}

	sorted := make([]migrator.Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Sequence < sorted[j].Sequence
	})

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1].Sequence, sorted[i].Sequence
		if cur == prev {
			return nil, fmt.Errorf("%w: %s sequence %d defined twice", migrator.ErrNonContiguousPlan, engine, cur)
		}
		if cur != prev+1 {
			return nil, fmt.Errorf("%w: %s sequence %d missing while %d is requested", migrator.ErrNonContiguousPlan, engine, prev+1, cur)
		}
	}

	var pending []migrator.Step
	for _, step := range sorted {
		entry, applied, err := r.config.Ledger.SucceededEntry(ctx, engine, step.Sequence)
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger for %s sequence %d: %w", engine, step.Sequence, err)
		}

		if applied {
			if entry.ChecksumAtApply != step.Checksum {
				return nil, fmt.Errorf("%w: %s sequence %d applied with checksum %s but defined as %s",
					migrator.ErrChecksumConflict, engine, step.Sequence, entry.ChecksumAtApply, step.Checksum)
			}
			if len(pending) > 0 {
				return nil, fmt.Errorf("%w: %s sequence %d succeeded after pending sequence %d",
					migrator.ErrNonContiguousPlan, engine, step.Sequence, pending[0].Sequence)
			}
			continue
		}

		pending = append(pending, step)
	}

	return pending, nil
}
