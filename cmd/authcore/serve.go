// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/openchami/authcore/pkg/config"
	"github.com/openchami/authcore/pkg/keys"
	"github.com/openchami/authcore/pkg/logging"
	"github.com/openchami/authcore/pkg/oidc"
	"github.com/openchami/authcore/pkg/server"
	"github.com/openchami/authcore/pkg/session"
	"github.com/openchami/authcore/pkg/token"
)

var secureCookies bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the auth service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(settings)
		if err != nil {
			return err
		}
		logger := logging.NewStructuredLogger("serve")

		// Keys load lazily; a missing key pair only fails the requests
		// that need it.
		keyStore := keys.NewStore(cfg.KeyDir)
		if _, err := keyStore.GetKeys(); err != nil {
			logger.WithError(err).Warn("signing keys not available yet, run 'authcore keygen'")
		}

		store, closeStore, err := jwksStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		client := oidc.NewClient(settings,
			oidc.WithHTTPClient(httpClient),
			oidc.WithTimeout(cfg.HTTPTimeout),
			oidc.WithJWKSCache(oidc.NewJWKSCache(store, httpClient, cfg.JWKSCacheTTL)),
		)

		engine := token.NewEngine(keyStore, token.WithDefaultTTL(cfg.TokenTTL))
		resolver, err := session.NewResolver(session.Descriptor{
			Name:     "jwt",
			Kind:     session.KindJWT,
			Active:   true,
			Priority: 0,
			Strategy: session.JWTStrategy(engine),
		})
		if err != nil {
			return err
		}

		srv := server.New(keyStore, client, resolver, server.Config{
			StateCookieTTL: cfg.StateCookieTTL,
			JWKSMaxAge:     cfg.JWKSMaxAge,
			SecureCookies:  secureCookies,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.ListenAndServe(ctx, cfg.ListenAddr)
	},
}

// jwksStore picks the provider JWKS cache store: Redis when REDIS_ADDR is
// set, an in-process LRU otherwise.
func jwksStore(ctx context.Context, cfg *config.Config) (oidc.Store, func(), error) {
	if cfg.RedisAddr == "" {
		return oidc.NewLRUStore(cfg.JWKSCacheSize, cfg.JWKSCacheTTL), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logging.NewStructuredLogger("serve").WithField("redis_addr", cfg.RedisAddr).Info("using redis JWKS cache")
	return oidc.NewRedisStore(rdb, oidc.DefaultRedisPrefix), func() { _ = rdb.Close() }, nil
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (env LISTEN_ADDR, default :8080)")
	serveCmd.Flags().String("key-dir", "", "Directory holding private.pem and public.pem (env KEY_DIR)")
	serveCmd.Flags().String("redis-addr", "", "Redis address for the shared JWKS cache (env REDIS_ADDR)")
	serveCmd.Flags().Duration("token-ttl", 0, "Default lifetime of issued tokens (env TOKEN_TTL)")
	serveCmd.Flags().BoolVar(&secureCookies, "secure-cookies", false, "Mark the SSO state cookie Secure")

	rootCmd.AddCommand(serveCmd)
}
