package errors

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// maxRequestIDLen bounds client supplied request ids.
const maxRequestIDLen = 128

// GenerateRequestID generates a new unique request ID
func GenerateRequestID() string {
	return uuid.New().String()
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// DetachedContext returns a background context that keeps the request ID of
// ctx. Used for work that outlives the request, such as a queued transcode.
func DetachedContext(ctx context.Context) context.Context {
	detached := context.Background()
	if id := GetRequestID(ctx); id != "" {
		detached = WithRequestID(detached, id)
	}
	return detached
}
