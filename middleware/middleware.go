// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/openchami/authcore/pkg/errors"
	"github.com/openchami/authcore/pkg/logging"
	"github.com/openchami/authcore/pkg/session"
)

// ContextKey is the key used to store the session in the context
type ContextKey string

// SessionContextKey is the key used to store the resolved session in the context
const SessionContextKey ContextKey = "authcore_session"

// Resolver resolves the session of a request. *session.Resolver satisfies it.
type Resolver interface {
	Resolve(r *http.Request) (*session.Session, error)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError answers with a fixed body per status so the cause of a
// rejected request is never revealed to the caller.
func writeError(w http.ResponseWriter, status int) {
	body := errorBody{Error: "unauthorized", Code: string(errors.ErrCodeUnauthorized)}
	switch status {
	case http.StatusForbidden:
		body = errorBody{Error: "forbidden", Code: "FORBIDDEN"}
	case http.StatusInternalServerError:
		body = errorBody{Error: "internal server error", Code: string(errors.ErrCodeInternal)}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// RequireSession rejects requests that no strategy authenticates and stores
// the session of the others in the request context.
func RequireSession(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := resolver.Resolve(r)
			if err != nil {
				logger := logging.NewStructuredLoggerFromContext(r.Context(), "middleware").
					WithField("path", r.URL.Path).
					WithError(err)
				if errors.IsTrustError(err) {
					logger.Debug("request not authenticated")
					writeError(w, http.StatusUnauthorized)
					return
				}
				logger.Error("session resolution failed")
				writeError(w, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// OptionalSession stores the session when one resolves and passes every
// request through.
func OptionalSession(resolver Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s, err := resolver.Resolve(r); err == nil {
				r = r.WithContext(WithSession(r.Context(), s))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireStrategy admits only sessions in which the named strategy
// succeeded. It must run after RequireSession.
func RequireStrategy(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized)
				return
			}
			if _, ok := s.Claims[name]; !ok {
				writeError(w, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *session.Session) context.Context {
	return context.WithValue(ctx, SessionContextKey, s)
}

// SessionFromContext retrieves the session from the request context
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(SessionContextKey).(*session.Session)
	return s, ok && s != nil
}
