package context

import (
	"context"

	"github.com/google/uuid"
)

// TraceContext carries correlation identifiers for a single request.
// Loggers pull TraceID and RequestID out of the context so every
// ledger posting can be traced back to the HTTP call that caused it.
type TraceContext struct {
	TraceID   string
	SpanID    string
	RequestID string
}

// NewTrace builds a trace with the given (possibly caller-supplied)
// trace and request IDs, minting any that are empty. Request IDs use
// UUIDv7 so log correlation keys sort in arrival order.
func NewTrace(traceID, requestID string) *TraceContext {
	if traceID == "" {
		traceID = newCorrelationID()
	}
	if requestID == "" {
		requestID = newCorrelationID()
	}
	return &TraceContext{
		TraceID:   traceID,
		SpanID:    newCorrelationID()[:16],
		RequestID: requestID,
	}
}

func newCorrelationID() string {
	v7, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return v7.String()
}

type traceContextKey struct{}

// WithTrace stores the trace in the context.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetTrace returns the trace stored in the context, or nil.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}
