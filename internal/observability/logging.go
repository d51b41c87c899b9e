// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// CorrelationID is the context key for the per-request correlation id.
const CorrelationID LogContextKey = "correlation_id"

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id := ctx.Value(CorrelationID); id != nil {
		return id.(string)
	}
	return ""
}

// SyncLogger provides structured logging for reconciliation operations.
type SyncLogger struct {
	component string
	logger    *Logger
}

// NewSyncLogger creates a new SyncLogger for the given component.
func NewSyncLogger(component string) *SyncLogger {
	return &SyncLogger{component: component, logger: GlobalLogger}
}

// LogOperation logs a reconciliation operation.
func (l *SyncLogger) LogOperation(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("component", l.component),
		slog.String("operation", operation),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "sync operation", attrs...)
}

// LogBestEffortFailure logs a background reconciliation failure that is never
// surfaced to the user (read receipts, unread-count refresh).
func (l *SyncLogger) LogBestEffortFailure(ctx context.Context, operation string, err error) {
	l.logger.WarnContext(ctx, "best-effort operation failed",
		slog.String("component", l.component),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogError logs a reconciliation error.
func (l *SyncLogger) LogError(ctx context.Context, operation string, err error) {
	l.logger.ErrorContext(ctx, "sync error",
		slog.String("component", l.component),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// TransportLogger provides structured logging for push-channel transports.
type TransportLogger struct {
	transport string
	logger    *Logger
}

// NewTransportLogger creates a new TransportLogger for the given transport kind.
func NewTransportLogger(transport string) *TransportLogger {
	return &TransportLogger{transport: transport, logger: GlobalLogger}
}

// LogConnect logs a transport connection event.
func (l *TransportLogger) LogConnect(ctx context.Context, endpoint string) {
	l.logger.InfoContext(ctx, "transport connected",
		slog.String("transport", l.transport),
		slog.String("endpoint", endpoint),
	)
}

// LogChannel logs a conversation channel join or leave.
func (l *TransportLogger) LogChannel(ctx context.Context, action string, conversationID uint) {
	l.logger.InfoContext(ctx, "transport channel",
		slog.String("transport", l.transport),
		slog.String("action", action),
		slog.Uint64("conversation_id", uint64(conversationID)),
	)
}

// LogEvent logs an inbound push event.
func (l *TransportLogger) LogEvent(ctx context.Context, eventType string, conversationID uint) {
	l.logger.InfoContext(ctx, "transport event",
		slog.String("transport", l.transport),
		slog.String("event_type", eventType),
		slog.Uint64("conversation_id", uint64(conversationID)),
	)
}

// LogError logs a transport error.
func (l *TransportLogger) LogError(ctx context.Context, err error, eventType string) {
	l.logger.ErrorContext(ctx, "transport error",
		slog.String("transport", l.transport),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}
