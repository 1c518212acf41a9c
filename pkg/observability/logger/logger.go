package logger

import (
	"context"
)

// Logger is the structured logging contract used by every client component.
// Log methods take a message followed by key-value pairs.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info-level message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning-level message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error-level message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a child logger that adds the key-value pairs to every entry
	With(args ...any) Logger

	// WithContext returns a child logger carrying the request and operation
	// identifiers stored in ctx, if any
	WithContext(ctx context.Context) Logger
}

type contextKey string

const (
	requestIDKey   contextKey = "request_id"
	operationIDKey contextKey = "operation_id"
)

// ContextWithRequestID stores a request id that WithContext will attach to log entries.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ContextWithOperationID stores the API operation id that WithContext will attach to log entries.
func ContextWithOperationID(ctx context.Context, operationID string) context.Context {
	return context.WithValue(ctx, operationIDKey, operationID)
}

// RequestIDFromContext returns the request id stored in ctx or "".
func RequestIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, requestIDKey)
}

// OperationIDFromContext returns the operation id stored in ctx or "".
func OperationIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, operationIDKey)
}

func stringFromContext(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
