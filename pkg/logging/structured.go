// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package logging

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openchami/authcore/pkg/errors"
)

// StructuredLogger wraps a zerolog logger with field helpers that understand
// AuthError.
type StructuredLogger struct {
	logger zerolog.Logger
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(component string) *StructuredLogger {
	return &StructuredLogger{logger: GetLogger(component)}
}

// NewStructuredLoggerFromContext creates a structured logger that carries the
// tracing fields found in ctx.
func NewStructuredLoggerFromContext(ctx context.Context, component string) *StructuredLogger {
	return &StructuredLogger{logger: LoggerFromContextWithComponent(ctx, component)}
}

// WithField adds a field to the logger
func (l *StructuredLogger) WithField(key string, value interface{}) *StructuredLogger {
	return &StructuredLogger{logger: l.logger.With().Interface(key, value).Logger()}
}

// WithFields adds multiple fields to the logger
func (l *StructuredLogger) WithFields(fields map[string]interface{}) *StructuredLogger {
	ctx := l.logger.With()
	for key, value := range fields {
		ctx = ctx.Interface(key, value)
	}
	return &StructuredLogger{logger: ctx.Logger()}
}

// WithError adds an error to the logger. AuthError codes and details are
// expanded into their own fields.
func (l *StructuredLogger) WithError(err error) *StructuredLogger {
	ctx := l.logger.With().Err(err)

	if authErr, ok := errors.As(err); ok {
		ctx = ctx.
			Str("error_code", string(authErr.Code)).
			Int("http_status", authErr.HTTPStatus)
		for key, value := range authErr.Details {
			ctx = ctx.Interface("error_"+key, value)
		}
	}

	return &StructuredLogger{logger: ctx.Logger()}
}

// Zerolog exposes the underlying logger.
func (l *StructuredLogger) Zerolog() zerolog.Logger {
	return l.logger
}

// Debug logs a debug message
func (l *StructuredLogger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message
func (l *StructuredLogger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message
func (l *StructuredLogger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message
func (l *StructuredLogger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

// LogTokenOperation logs a token-related operation
func (l *StructuredLogger) LogTokenOperation(operation string, success bool, duration time.Duration) {
	event := l.logger.Debug()
	if !success {
		event = l.logger.Warn()
	}

	event.
		Str("operation", operation).
		Bool("success", success).
		Dur("duration", duration).
		Msg("token operation")
}

// LogOIDCOperation logs an OIDC-related operation
func (l *StructuredLogger) LogOIDCOperation(operation, provider string, success bool, duration time.Duration) {
	event := l.logger.Info()
	if !success {
		event = l.logger.Error()
	}

	event.
		Str("operation", operation).
		Str("provider", provider).
		Bool("success", success).
		Dur("duration", duration).
		Msg("oidc operation")
}
