package token

import "github.com/openchami/authcore/pkg/errors"

var (
	// ErrMalformedToken indicates the token is not three non-empty segments
	// or its header cannot be decoded.
	ErrMalformedToken = errors.New(errors.ErrCodeMalformedToken, "malformed token")

	// ErrInvalidSignature indicates that the token signature is invalid
	ErrInvalidSignature = errors.New(errors.ErrCodeInvalidSignature, "invalid token signature")

	// ErrInvalidPayload indicates the payload is not a JSON object
	ErrInvalidPayload = errors.New(errors.ErrCodeInvalidPayload, "invalid token payload")

	// ErrTokenExpired indicates that the token has expired
	ErrTokenExpired = errors.New(errors.ErrCodeTokenExpired, "token has expired")

	// ErrUnauthorized is the only error a session check reports for a bad token.
	ErrUnauthorized = errors.NewUnauthorized("unauthorized")
)
