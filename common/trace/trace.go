// Package trace carries a per-turn correlation ID through context so that
// log lines written by the dispatcher, the skills and the persistence sinks
// for the same utterance can be joined.
package trace

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// traceKey is the unexported context key used to store the trace ID.
type traceKey struct{}

// GenerateID returns a new turn trace ID.
func GenerateID() string {
	return "turn_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:20]
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" if absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Ensure returns ctx unchanged when it already carries a trace ID, and a
// child context with a fresh one otherwise.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := GenerateID()
	return WithTraceID(ctx, id), id
}

// Attr is the slog attribute used for the trace ID in every log line.
func Attr(ctx context.Context) slog.Attr {
	return slog.String("trace_id", FromContext(ctx))
}
