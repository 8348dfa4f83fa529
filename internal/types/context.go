package types

import "context"

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID returns ctx carrying the request ID used in logs and error
// envelopes.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request ID, or "" outside a request.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
