// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package server exposes the federation flow, the JWKS document and the
// session endpoint over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/openchami/authcore/middleware"
	"github.com/openchami/authcore/pkg/errors"
	"github.com/openchami/authcore/pkg/jwks"
	"github.com/openchami/authcore/pkg/keys"
	"github.com/openchami/authcore/pkg/logging"
	"github.com/openchami/authcore/pkg/oidc"
)

// StateCookie holds the state issued by /sso/authorize until the callback.
const StateCookie = "authcore_state"

// Config holds the HTTP surface settings.
type Config struct {
	StateCookieTTL time.Duration
	JWKSMaxAge     time.Duration
	// SecureCookies marks the state cookie Secure. Enable behind TLS.
	SecureCookies bool
}

// Server routes requests to the auth components.
type Server struct {
	keys     keys.Provider
	oidc     *oidc.Client
	resolver middleware.Resolver
	config   Config
	router   chi.Router
}

// New creates a Server and its routes.
func New(kp keys.Provider, client *oidc.Client, resolver middleware.Resolver, config Config) *Server {
	if config.StateCookieTTL <= 0 {
		config.StateCookieTTL = 10 * time.Minute
	}
	s := &Server{
		keys:     kp,
		oidc:     client,
		resolver: resolver,
		config:   config,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(logging.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, jwks.Path, jwks.NewHandler(s.keys, s.config.JWKSMaxAge))

	r.Route("/sso", func(r chi.Router) {
		r.Get("/authorize", s.handleAuthorize)
		r.Get("/callback", s.handleCallback)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(s.resolver))
		r.Get("/session", s.handleSession)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	logger := logging.NewStructuredLogger("server")
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	name := oidc.ParseProviderName(r.URL.Query().Get("provider"))

	state, err := oidc.GenerateState()
	if err != nil {
		s.writeError(w, r, errors.Wrap(err, errors.ErrCodeInternal, "failed to generate state"))
		return
	}
	target, err := s.oidc.AuthorizationURL(name, state)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    state,
		Path:     "/sso",
		MaxAge:   int(s.config.StateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := oidc.ParseProviderName(q.Get("provider"))
	logger := logging.NewStructuredLoggerFromContext(r.Context(), "server").WithField("provider", string(name))

	if providerErr := q.Get("error"); providerErr != "" {
		logger.WithField("provider_error", providerErr).Info("provider denied authorization")
		s.writeError(w, r, errors.NewUnauthorized("authorization denied"))
		return
	}

	state := q.Get("state")
	cookie, err := r.Cookie(StateCookie)
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		logger.Debug("state mismatch on callback")
		s.writeError(w, r, errors.NewUnauthorized("state mismatch"))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: StateCookie, Value: "", Path: "/sso", MaxAge: -1, HttpOnly: true, Secure: s.config.SecureCookies})

	code := q.Get("code")
	if code == "" {
		s.writeError(w, r, errors.NewUnauthorized("missing authorization code"))
		return
	}

	user, err := s.oidc.CompleteLogin(r.Context(), name, code, state)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		s.writeError(w, r, errors.NewUnauthorized("unauthorized"))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError answers with the error's status. Trust failures share one body;
// other errors expose only their code and fixed message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.GetHTTPStatus(err)
	logger := logging.NewStructuredLoggerFromContext(r.Context(), "server").
		WithField("path", r.URL.Path).
		WithError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed")
	} else {
		logger.Debug("request rejected")
	}

	if errors.IsTrustError(err) {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: string(errors.ErrCodeUnauthorized)})
		return
	}
	resp := errorResponse{Error: "internal server error", Code: string(errors.ErrCodeInternal)}
	if authErr, ok := errors.As(err); ok {
		resp = errorResponse{Error: authErr.Message, Code: string(authErr.Code)}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
