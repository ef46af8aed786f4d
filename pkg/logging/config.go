// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package logging configures the process-wide zerolog logger and provides
// component loggers that carry request tracing fields.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat represents the logging format
type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

// Config holds the logging configuration
type Config struct {
	Level       LogLevel  `json:"level" yaml:"level"`
	Format      LogFormat `json:"format" yaml:"format"`
	ServiceName string    `json:"service_name" yaml:"service_name"`
	Environment string    `json:"environment" yaml:"environment"`
	Caller      bool      `json:"caller" yaml:"caller"`

	// Output defaults to os.Stderr.
	Output io.Writer `json:"-" yaml:"-"`
}

// DefaultConfig returns a default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:       LogLevelInfo,
		Format:      LogFormatConsole,
		ServiceName: "authcore",
		Environment: "development",
		Caller:      false,
	}
}

// Configure sets up the global logger with the given configuration
func Configure(config *Config) zerolog.Logger {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zerolog.ParseLevel(string(config.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	var logger zerolog.Logger
	switch config.Format {
	case LogFormatConsole:
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	default:
		logger = zerolog.New(out)
	}

	ctx := logger.With().
		Timestamp().
		Str("service", config.ServiceName).
		Str("environment", config.Environment)
	if config.Caller {
		ctx = ctx.Caller()
	}
	logger = ctx.Logger()

	log.Logger = logger
	return logger
}

// ConfigureFromEnv configures logging from environment variables
func ConfigureFromEnv() zerolog.Logger {
	config := DefaultConfig()

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = LogLevel(strings.ToLower(level))
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = LogFormat(strings.ToLower(format))
	}
	if serviceName := os.Getenv("SERVICE_NAME"); serviceName != "" {
		config.ServiceName = serviceName
	}
	if environment := os.Getenv("ENVIRONMENT"); environment != "" {
		config.Environment = environment
	}
	if caller := os.Getenv("LOG_CALLER"); caller != "" {
		config.Caller = caller == "true"
	}

	return Configure(config)
}

// GetLogger returns a logger tagged with the given component
func GetLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
