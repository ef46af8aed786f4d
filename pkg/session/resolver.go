// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package session resolves the authenticated session of a request by trying
// a prioritized list of authentication strategies.
package session

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/openchami/authcore/pkg/errors"
	"github.com/openchami/authcore/pkg/logging"
	"github.com/openchami/authcore/pkg/token"
)

// Kind tags the family a strategy belongs to.
type Kind string

const (
	KindJWT    Kind = "jwt"
	KindCustom Kind = "custom"
)

// Claims is what a strategy asserts about the caller.
type Claims map[string]interface{}

// Strategy authenticates a request. Returning nil claims and a nil error
// means the strategy abstains.
type Strategy interface {
	Resolve(r *http.Request) (Claims, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(r *http.Request) (Claims, error)

// Resolve calls f(r).
func (f StrategyFunc) Resolve(r *http.Request) (Claims, error) {
	return f(r)
}

// Descriptor registers a strategy. Lower Priority runs first; equal
// priorities keep registration order.
type Descriptor struct {
	Name     string
	Kind     Kind
	Active   bool
	Priority int
	Strategy Strategy
}

// Session is the merged result of every strategy that succeeded, keyed by
// strategy name.
type Session struct {
	Claims map[string]Claims `json:"claims"`
	// Strategies lists the succeeding strategies in the order they ran.
	Strategies []string `json:"strategies"`
}

// Authenticated reports whether at least one strategy succeeded.
func (s *Session) Authenticated() bool {
	return s != nil && len(s.Claims) > 0
}

// ErrUnauthenticated is returned when no strategy produced claims.
var ErrUnauthenticated = errors.NewUnauthorized("unauthenticated")

// Resolver runs registered strategies against requests.
type Resolver struct {
	mu          sync.RWMutex
	descriptors []Descriptor
}

// NewResolver creates a Resolver with the given strategies.
func NewResolver(descriptors ...Descriptor) (*Resolver, error) {
	r := &Resolver{}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a strategy. Names must be unique.
func (r *Resolver) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "strategy name is required")
	}
	if d.Strategy == nil {
		return errors.New(errors.ErrCodeInvalidConfig, "strategy is required").WithDetails("strategy", d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.descriptors {
		if existing.Name == d.Name {
			return errors.New(errors.ErrCodeInvalidConfig, "strategy already registered").WithDetails("strategy", d.Name)
		}
	}
	r.descriptors = append(r.descriptors, d)
	return nil
}

// SetActive toggles a registered strategy.
func (r *Resolver) SetActive(name string, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.descriptors {
		if r.descriptors[i].Name == name {
			r.descriptors[i].Active = active
			return true
		}
	}
	return false
}

// ordered returns the active strategies sorted by priority.
func (r *Resolver) ordered() []Descriptor {
	r.mu.RLock()
	active := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if d.Active {
			active = append(active, d)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})
	return active
}

// Resolve runs the active strategies one after another. A failing strategy
// is treated as abstaining and never stops the others. The request is
// unauthenticated when no strategy succeeds.
func (r *Resolver) Resolve(req *http.Request) (*Session, error) {
	ctx := req.Context()
	logger := logging.NewStructuredLoggerFromContext(ctx, "session")
	start := time.Now()

	session := &Session{Claims: make(map[string]Claims)}
	for _, d := range r.ordered() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "session resolution cancelled")
		}

		claims, err := runStrategy(d, req)
		if err != nil {
			logger.WithField("strategy", d.Name).WithError(err).Debug("strategy failed")
			continue
		}
		if claims == nil {
			continue
		}
		session.Claims[d.Name] = claims
		session.Strategies = append(session.Strategies, d.Name)
	}

	logger.WithFields(map[string]interface{}{
		"strategies": session.Strategies,
		"duration":   time.Since(start).String(),
	}).Debug("session resolved")

	if !session.Authenticated() {
		return nil, ErrUnauthenticated
	}
	return session, nil
}

// runStrategy calls one strategy, turning a panic into an error.
func runStrategy(d Descriptor, req *http.Request) (claims Claims, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			claims = nil
			err = fmt.Errorf("strategy %s panicked: %v", d.Name, rec)
		}
	}()
	return d.Strategy.Resolve(req)
}

// JWTStrategy authenticates requests with self-issued bearer tokens.
func JWTStrategy(engine *token.Engine) Strategy {
	return StrategyFunc(func(r *http.Request) (Claims, error) {
		claims, err := engine.VerifySession(r)
		if err != nil {
			return nil, err
		}
		return Claims(claims), nil
	})
}
