// Package telemetry carries a per-call trace ID through context so the
// dispatch and completion sides of a proxied call log under the same
// identifier.
package telemetry

import (
	"context"

	"github.com/jrazmi/storeproxy/sdk/cryptids"
)

type telKey int

const (
	traceIDKey telKey = iota + 1
)

const noTrace = "--------NOTRACE--------"

// EnsureTraceID returns ctx with a trace ID attached, generating one if
// the context does not already carry one.
func EnsureTraceID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(traceIDKey).(string); ok {
		return ctx
	}
	return SetTraceID(ctx)
}

// SetTraceID attaches a fresh trace ID, replacing any existing one.
func SetTraceID(ctx context.Context) context.Context {
	tid, err := cryptids.GenerateID()
	if err != nil {
		return context.WithValue(ctx, traceIDKey, noTrace)
	}
	return context.WithValue(ctx, traceIDKey, tid)
}

// GetTraceID returns the context's trace ID, or a placeholder when the
// context carries none.
func GetTraceID(ctx context.Context) string {
	v, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return noTrace
	}
	return v
}
