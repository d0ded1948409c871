package migrator

import "context"

// Logger is the minimal structured logging contract used across the
// orchestrator. Keys and values alternate in kv. Components treat a nil
// Logger as "no logging".
type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}
