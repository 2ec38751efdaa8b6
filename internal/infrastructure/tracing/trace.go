package tracing

import (
	"context"

	"github.com/google/uuid"
)

// HeaderTraceID carries the trace ID between the package manager and the
// index server.
const HeaderTraceID = "X-Trace-ID"

// Context keys for trace propagation
type contextKey string

const traceIDKey contextKey = "trace_id"

// NewTraceID returns a fresh trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID returns a copy of ctx carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// TraceID retrieves the trace ID from context
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// Ensure returns ctx and its trace ID, adding a new ID if ctx has none.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := TraceID(ctx); id != "" {
		return ctx, id
	}
	id := NewTraceID()
	return WithTraceID(ctx, id), id
}
