// Package logging provides the zerolog-backed implementation of
// migrator.Logger used by the entrypoint. Library packages stay decoupled
// from the logging backend by depending on the interface alone.
package logging

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	migrator "github.com/daybook/migrate-orchestrator"
)

type zerologLogger struct {
	logger zerolog.Logger
}

// New creates a Logger writing structured JSON to w at the given level.
// Unknown levels fall back to info.
func New(w io.Writer, level string) migrator.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	return &zerologLogger{
		logger: zerolog.New(w).Level(parsed).With().Timestamp().Logger(),
	}
}

// Debug implements migrator.Logger.
func (l *zerologLogger) Debug(ctx context.Context, msg string, kv ...any) {
	emit(l.logger.Debug(), msg, kv)
}

// Info implements migrator.Logger.
func (l *zerologLogger) Info(ctx context.Context, msg string, kv ...any) {
	emit(l.logger.Info(), msg, kv)
}

// Error implements migrator.Logger.
func (l *zerologLogger) Error(ctx context.Context, msg string, kv ...any) {
	emit(l.logger.Error(), msg, kv)
}

func emit(event *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, kv[i+1])
	}
	event.Msg(msg)
}
