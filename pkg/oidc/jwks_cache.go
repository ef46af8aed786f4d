// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package oidc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/openchami/authcore/pkg/errors"
	"github.com/openchami/authcore/pkg/logging"
)

const (
	// DefaultJWKSCacheTTL bounds how long a fetched key set is trusted.
	DefaultJWKSCacheTTL = time.Hour
	// DefaultJWKSCacheSize bounds the number of JWKS URIs kept in memory.
	DefaultJWKSCacheSize = 64

	maxResponseBytes = 1 << 20
)

// JWKSCache fetches remote key sets and keeps them in a Store keyed by URI.
// Concurrent misses for one URI share a single fetch.
type JWKSCache struct {
	store  Store
	client *http.Client
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
}

// NewJWKSCache creates a cache. A nil store uses an in-memory LRU and a nil
// client uses a client with DefaultHTTPTimeout.
func NewJWKSCache(store Store, client *http.Client, ttl time.Duration) *JWKSCache {
	if ttl <= 0 {
		ttl = DefaultJWKSCacheTTL
	}
	if store == nil {
		store = NewLRUStore(DefaultJWKSCacheSize, ttl)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	timeout := client.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &JWKSCache{store: store, client: client, ttl: ttl, timeout: timeout}
}

// Get returns the key set for uri, fetching it on a miss.
func (c *JWKSCache) Get(ctx context.Context, uri string) (jwk.Set, error) {
	logger := logging.NewStructuredLoggerFromContext(ctx, "jwks-cache").WithField("jwks_uri", uri)

	data, found, err := c.store.Get(ctx, uri)
	if err != nil {
		logger.WithError(err).Warn("JWKS cache read failed, fetching")
	}
	if found {
		set, err := jwk.Parse(data)
		if err == nil {
			return set, nil
		}
		logger.WithError(err).Warn("discarding unparsable cached JWKS")
	}

	return c.load(ctx, uri)
}

// Refresh fetches uri unconditionally and replaces the cached value. It is
// used when a token names a kid the cached set does not contain.
func (c *JWKSCache) Refresh(ctx context.Context, uri string) (jwk.Set, error) {
	return c.load(ctx, uri)
}

// Invalidate drops the cached set for uri.
func (c *JWKSCache) Invalidate(ctx context.Context, uri string) error {
	return c.store.Delete(ctx, uri)
}

// load fetches uri once for all concurrent callers. The shared fetch is
// detached from any single caller's cancellation and bounded by the cache
// timeout; each caller still stops waiting when its own context ends.
func (c *JWKSCache) load(ctx context.Context, uri string) (jwk.Set, error) {
	ch := c.group.DoChan(uri, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		data, err := c.fetch(fetchCtx, uri)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(fetchCtx, uri, data, c.ttl); err != nil {
			logging.NewStructuredLoggerFromContext(ctx, "jwks-cache").
				WithField("jwks_uri", uri).WithError(err).Warn("JWKS cache write failed")
		}
		return data, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrCodeJWKSFetchFailed, "JWKS fetch cancelled")
	}
	if res.Err != nil {
		return nil, res.Err
	}

	set, err := jwk.Parse(res.Val.([]byte))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeJWKSFetchFailed, "failed to parse JWKS")
	}
	return set, nil
}

func (c *JWKSCache) fetch(ctx context.Context, uri string) ([]byte, error) {
	logger := logging.NewStructuredLoggerFromContext(ctx, "jwks-cache").WithField("jwks_uri", uri)
	logger.Debug("fetching JWKS")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeJWKSFetchFailed, "failed to create JWKS request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		logger.WithError(err).Error("JWKS request failed")
		return nil, errors.Wrap(err, errors.ErrCodeJWKSFetchFailed, "JWKS request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.WithField("status_code", resp.StatusCode).Error("JWKS request returned error status")
		return nil, errors.New(errors.ErrCodeJWKSFetchFailed, "JWKS request failed").
			WithDetails("status_code", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeJWKSFetchFailed, "failed to read JWKS response")
	}
	if _, err := jwk.Parse(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeJWKSFetchFailed, fmt.Sprintf("invalid JWKS document (%d bytes)", len(data)))
	}
	return data, nil
}
