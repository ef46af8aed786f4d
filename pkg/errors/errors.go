// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package errors provides the coded error type shared by the key store, the
// token engine, the OIDC federation client and the session resolver.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Key material errors
	ErrCodeKeyMaterialUnavailable ErrorCode = "KEY_MATERIAL_UNAVAILABLE"

	// Trust and validation errors
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrCodeMalformedToken   ErrorCode = "MALFORMED_TOKEN"
	ErrCodeInvalidSignature ErrorCode = "INVALID_SIGNATURE"
	ErrCodeInvalidPayload   ErrorCode = "INVALID_PAYLOAD"
	ErrCodeTokenExpired     ErrorCode = "TOKEN_EXPIRED"
	ErrCodeKeyNotFound      ErrorCode = "KEY_NOT_FOUND"

	// Configuration errors
	ErrCodeProviderNotConfigured ErrorCode = "PROVIDER_NOT_CONFIGURED"
	ErrCodeUnknownProvider       ErrorCode = "UNKNOWN_PROVIDER"
	ErrCodeInvalidConfig         ErrorCode = "INVALID_CONFIG"

	// Provider protocol errors
	ErrCodeProviderNotOIDC         ErrorCode = "PROVIDER_NOT_OIDC"
	ErrCodeUnsupportedProviderFlow ErrorCode = "UNSUPPORTED_PROVIDER_FLOW"

	// Transport errors
	ErrCodeTokenExchangeFailed ErrorCode = "TOKEN_EXCHANGE_FAILED"
	ErrCodeJWKSFetchFailed     ErrorCode = "JWKS_FETCH_FAILED"
	ErrCodeProfileFetchFailed  ErrorCode = "PROFILE_FETCH_FAILED"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AuthError represents a standardized error with context
type AuthError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AuthError carrying the same code, so that
// sentinel values declared by other packages match wrapped instances.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails adds additional context to the error. Callers must never pass
// secrets or raw tokens here; details end up in logs.
func (e *AuthError) WithDetails(key string, value interface{}) *AuthError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new AuthError with the given code and message
func New(code ErrorCode, message string) *AuthError {
	return &AuthError{
		Code:       code,
		Message:    message,
		HTTPStatus: getHTTPStatus(code),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *AuthError {
	return &AuthError{
		Code:       code,
		Message:    message,
		Cause:      err,
		HTTPStatus: getHTTPStatus(code),
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AuthError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func getHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeUnauthorized, ErrCodeMalformedToken, ErrCodeInvalidSignature, ErrCodeInvalidPayload,
		ErrCodeTokenExpired, ErrCodeKeyNotFound:
		return http.StatusUnauthorized
	case ErrCodeUnknownProvider, ErrCodeProviderNotOIDC, ErrCodeUnsupportedProviderFlow:
		return http.StatusBadRequest
	case ErrCodeTokenExchangeFailed, ErrCodeJWKSFetchFailed, ErrCodeProfileFetchFailed:
		return http.StatusBadGateway
	case ErrCodeKeyMaterialUnavailable, ErrCodeProviderNotConfigured, ErrCodeInvalidConfig, ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As finds the first AuthError in err's chain.
func As(err error) (*AuthError, bool) {
	var authErr *AuthError
	if stderrors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	if authErr, ok := As(err); ok {
		return authErr.Code
	}
	return ErrCodeInternal
}

// GetHTTPStatus extracts the HTTP status from an error
func GetHTTPStatus(err error) int {
	if authErr, ok := As(err); ok {
		return authErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsTrustError reports whether err is one of the token trust failures that a
// session boundary must collapse into a uniform Unauthorized.
func IsTrustError(err error) bool {
	switch GetErrorCode(err) {
	case ErrCodeUnauthorized, ErrCodeMalformedToken, ErrCodeInvalidSignature, ErrCodeInvalidPayload,
		ErrCodeTokenExpired, ErrCodeKeyNotFound:
		return true
	}
	return false
}

// NewUnauthorized creates an unauthorized error
func NewUnauthorized(message string) *AuthError {
	return New(ErrCodeUnauthorized, message)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AuthError {
	return New(ErrCodeInternal, message)
}
