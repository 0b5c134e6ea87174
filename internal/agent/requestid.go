package agent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type requestIDKey struct{}

// generateRequestID returns a short correlation id: "r_" and 8 hex
// characters.
func generateRequestID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "r_" + hex.EncodeToString(b[:])
}

// WithRequestID attaches a correlation id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the correlation id carried by ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
