// Package reqid carries two ids on a context: the invocation id, minted
// fresh for every workflow run, and the caller-supplied request id used to
// correlate retries and logs. Only the invocation id is unique.
package reqid

import (
	"context"

	"github.com/google/uuid"
)

type (
	contextKey   struct{}
	requestIDKey struct{}
)

// New returns a fresh invocation id.
func New() string {
	return uuid.NewString()
}

// WithID returns a context that carries the given invocation id.
// An empty id leaves ctx unchanged.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// ID returns the invocation id from the context, or empty string if not set.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v := ctx.Value(contextKey{})
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Ensure returns ctx unchanged when it already carries an id, otherwise
// a child context with a new one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	id := New()
	return WithID(ctx, id), id
}

// WithRequestID attaches the caller's correlation id. An empty id leaves
// ctx unchanged.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the caller's correlation id, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(requestIDKey{}).(string)
	return s
}
