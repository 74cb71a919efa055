package logging

import "context"

type contextKey int

const (
	runIDKey contextKey = iota
	loggerKey
)

// WithRunIDCtx returns a context carrying the prune run ID.
func WithRunIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromCtx extracts the run ID from the context.
func RunIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLoggerCtx returns a context with the logger attached.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromCtx returns the logger attached to ctx, falling back to the global
// logger. A run ID found in the context is applied to the result.
func FromCtx(ctx context.Context) *Logger {
	l, ok := ctx.Value(loggerKey).(*Logger)
	if !ok || l == nil {
		l = Global()
	}
	if id := RunIDFromCtx(ctx); id != "" && id != l.runID {
		l = l.WithRunID(id)
	}
	return l
}
