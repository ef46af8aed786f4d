// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package logging

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TraceIDKey is the context key for trace ID
type TraceIDKey struct{}

// CorrelationIDKey is the context key for correlation ID
type CorrelationIDKey struct{}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey{}, traceID)
}

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey{}, correlationID)
}

// GetTraceID extracts the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey{}).(string); ok {
		return traceID
	}
	return ""
}

// GetCorrelationID extracts the correlation ID from the context
func GetCorrelationID(ctx context.Context) string {
	if correlationID, ok := ctx.Value(CorrelationIDKey{}).(string); ok {
		return correlationID
	}
	return ""
}

// LoggerFromContext returns the global logger enriched with tracing fields
func LoggerFromContext(ctx context.Context) zerolog.Logger {
	logCtx := log.Logger.With()
	if traceID := GetTraceID(ctx); traceID != "" {
		logCtx = logCtx.Str("trace_id", traceID)
	}
	if correlationID := GetCorrelationID(ctx); correlationID != "" {
		logCtx = logCtx.Str("correlation_id", correlationID)
	}
	return logCtx.Logger()
}

// LoggerFromContextWithComponent returns a logger with tracing information and component
func LoggerFromContextWithComponent(ctx context.Context, component string) zerolog.Logger {
	return LoggerFromContext(ctx).With().Str("component", component).Logger()
}

// ContextFromRequest creates a context with tracing information taken from
// the request headers, generating IDs that are absent.
func ContextFromRequest(r *http.Request) context.Context {
	traceID := r.Header.Get("X-Trace-ID")
	if traceID == "" {
		traceID = r.Header.Get("X-Request-ID")
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}

	correlationID := r.Header.Get("X-Correlation-ID")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	ctx := WithTraceID(r.Context(), traceID)
	return WithCorrelationID(ctx, correlationID)
}

// Middleware adds tracing IDs to the request context and logs one line per
// request with its status and duration.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ContextFromRequest(r)
		w.Header().Set("X-Trace-ID", GetTraceID(ctx))
		w.Header().Set("X-Correlation-ID", GetCorrelationID(ctx))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		logger := LoggerFromContextWithComponent(ctx, "http")
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status_code", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
