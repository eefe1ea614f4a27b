// Package logger provides structured logging on top of log/slog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const (
	// RequestIDKey is the context key for the request id.
	RequestIDKey contextKey = "request_id"
	// ActorIDKey is the context key for the authenticated manager or vendor id.
	ActorIDKey contextKey = "actor_id"
)

// Logger wraps slog.Logger for structured logging.
type Logger struct {
	*slog.Logger
}

// New creates a logger for the given environment. Development gets text at
// debug level, everything else JSON at info.
func New(env string) *Logger {
	return newWithWriter(env, os.Stdout)
}

func newWithWriter(env string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithContext returns a logger carrying request_id and actor_id from ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if l == nil {
		return Discard()
	}
	if ctx == nil {
		return l
	}

	out := l
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		out = &Logger{Logger: out.With(slog.String("request_id", requestID))}
	}
	if actorID, ok := ctx.Value(ActorIDKey).(string); ok && actorID != "" {
		out = &Logger{Logger: out.With(slog.String("actor_id", actorID))}
	}
	return out
}

// HTTPRequest logs a completed HTTP request.
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// ReconciliationAnomaly records a provider callback that conflicts with a
// terminal local payment state. It is never returned to a caller.
func (l *Logger) ReconciliationAnomaly(paymentID, localStatus, eventType, eventID string) {
	l.Warn("reconciliation_anomaly",
		slog.String("vendor_payment_id", paymentID),
		slog.String("local_status", localStatus),
		slog.String("event_type", eventType),
		slog.String("event_id", eventID),
	)
}

// CollaboratorFailure logs a swallowed failure from a best-effort collaborator.
func (l *Logger) CollaboratorFailure(collaborator, operation string, err error) {
	l.Warn("collaborator_failure",
		slog.String("collaborator", collaborator),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RateLimitExceeded logs a request dropped by the per-IP limiter.
func (l *Logger) RateLimitExceeded(ip, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", ip),
		slog.String("path", path),
	)
}
