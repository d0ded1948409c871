package structural

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	migrator "github.com/daybook/migrate-orchestrator"
	"github.com/daybook/migrate-orchestrator/engine"
)

// Config holds configuration for the structural Adapter.
type Config struct {
	// StepTimeout bounds a single invocation of the external engine
	// (default: 30m; structural transformations can be long-running).
	StepTimeout time.Duration

	// Logger is for observability (optional).
	Logger migrator.Logger
}

// Adapter invokes the compiled structural engine as an external executable.
// The engine accepts no interactive input, writes diagnostics to stderr, and
// signals success or failure solely via its process exit status.
type Adapter struct {
	config Config
}

// Compile-time check that Adapter implements engine.Adapter.
var _ engine.Adapter = (*Adapter)(nil)

// New creates a new structural Adapter with the given configuration.
// Applies the default step timeout if zero.
func New(cfg Config) *Adapter {
	if cfg.StepTimeout == 0 {
		cfg.StepTimeout = 30 * time.Minute
	}

	return &Adapter{config: cfg}
}

// Apply runs the step's command. Exit status zero maps to a succeeded
// outcome; any non-zero exit maps to a failed outcome with the captured
// stderr as the failure reason.
func (a *Adapter) Apply(ctx context.Context, step migrator.Step) (engine.Outcome, error) {
	runCtx, cancel := context.WithTimeout(ctx, a.config.StepTimeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, step.Command, step.Args...)
	cmd.Stderr = &stderr

	if a.config.Logger != nil {
		a.config.Logger.Info(ctx, "invoking structural engine",
			"sequence", step.Sequence,
			"command", step.Command,
			"description", step.Description)
	}

	started := time.Now()
	err := cmd.Run()
	duration := time.Since(started)

	if err == nil {
		return engine.Outcome{Succeeded: true, Duration: duration}, nil
	}

	reason := strings.TrimSpace(stderr.String())
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || reason == "" {
		// Startup failure or a silent non-zero exit: fall back to the
		// process error text.
		if reason == "" {
			reason = err.Error()
		}
	}

	return engine.Outcome{Succeeded: false, Duration: duration}, &engine.Failure{
		Engine:   migrator.EngineStructural,
		Sequence: step.Sequence,
		Reason:   reason,
	}
}
