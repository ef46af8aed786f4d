// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package config loads service settings from the environment, an optional
// .env file and an optional config file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/openchami/authcore/pkg/errors"
)

// Setting keys. Each one is also read from the environment variable of the
// same name.
const (
	KeyDir         = "KEY_DIR"
	TokenTTL       = "TOKEN_TTL"
	HTTPTimeout    = "HTTP_TIMEOUT"
	JWKSCacheTTL   = "JWKS_CACHE_TTL"
	JWKSCacheSize  = "JWKS_CACHE_SIZE"
	JWKSMaxAge     = "JWKS_MAX_AGE"
	RedisAddr      = "REDIS_ADDR"
	ListenAddr     = "LISTEN_ADDR"
	StateCookieTTL = "STATE_COOKIE_TTL"
)

// Config is the resolved core configuration. Provider settings are not part
// of it; the OIDC client reads them from the underlying Viper on each call.
type Config struct {
	KeyDir         string
	TokenTTL       time.Duration
	HTTPTimeout    time.Duration
	JWKSCacheTTL   time.Duration
	JWKSCacheSize  int
	JWKSMaxAge     time.Duration
	RedisAddr      string
	ListenAddr     string
	StateCookieTTL time.Duration

	// Viper is the source the config was read from.
	Viper *viper.Viper
}

// New returns a Viper bound to the environment with defaults applied.
func New() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault(KeyDir, "./keys")
	v.SetDefault(TokenTTL, time.Hour)
	v.SetDefault(HTTPTimeout, 10*time.Second)
	v.SetDefault(JWKSCacheTTL, time.Hour)
	v.SetDefault(JWKSCacheSize, 64)
	v.SetDefault(JWKSMaxAge, 5*time.Minute)
	v.SetDefault(ListenAddr, ":8080")
	v.SetDefault(StateCookieTTL, 10*time.Minute)
	return v
}

// LoadEnvFile loads a .env file into the process environment. A missing
// default file is not an error; a missing explicit file is.
func LoadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to read env file").WithDetails("path", path)
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to load env file").WithDetails("path", path)
	}
	return nil
}

// ReadFile merges a YAML, JSON or TOML config file into v.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to read config file").WithDetails("path", path)
	}
	return nil
}

// Load resolves a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = New()
	}

	cfg := &Config{
		KeyDir:         v.GetString(KeyDir),
		TokenTTL:       v.GetDuration(TokenTTL),
		HTTPTimeout:    v.GetDuration(HTTPTimeout),
		JWKSCacheTTL:   v.GetDuration(JWKSCacheTTL),
		JWKSCacheSize:  v.GetInt(JWKSCacheSize),
		JWKSMaxAge:     v.GetDuration(JWKSMaxAge),
		RedisAddr:      v.GetString(RedisAddr),
		ListenAddr:     v.GetString(ListenAddr),
		StateCookieTTL: v.GetDuration(StateCookieTTL),
		Viper:          v,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	positive := map[string]time.Duration{
		TokenTTL:       c.TokenTTL,
		HTTPTimeout:    c.HTTPTimeout,
		JWKSCacheTTL:   c.JWKSCacheTTL,
		StateCookieTTL: c.StateCookieTTL,
	}
	for key, d := range positive {
		if d <= 0 {
			return errors.New(errors.ErrCodeInvalidConfig, "duration must be positive").WithDetails("setting", key)
		}
	}
	if c.JWKSCacheSize <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "cache size must be positive").WithDetails("setting", JWKSCacheSize)
	}
	if c.KeyDir == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "key directory is required").WithDetails("setting", KeyDir)
	}
	return nil
}
