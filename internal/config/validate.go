// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package config

import (
	"net"
	"slices"
	"strconv"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/logging"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return invalid("http.port", "must be between 0 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.RequestTimeout <= 0 {
		return invalid("http.request_timeout", "must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return invalid("http.shutdown_timeout", "must be positive")
	}
	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return invalid("log.format", "must be json or text, got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "must be debug, info, warn or error, got %q", c.Log.Level)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return invalid("store.dsn", "is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Store.DSN == "" {
			return invalid("store.dsn", "is required for the sqlite driver (use :memory: for a temporary database)")
		}
	default:
		return invalid("store.driver", "must be memory, postgres or sqlite, got %q", c.Store.Driver)
	}
	if c.Store.Timeout <= 0 {
		return invalid("store.timeout", "must be positive")
	}
	if c.Store.ConnectRetries < 0 {
		return invalid("store.connect_retries", "must not be negative")
	}

	switch c.Hasher.Algorithm {
	case auth.AlgorithmBcrypt:
		if c.Hasher.Cost != 0 && (c.Hasher.Cost < auth.MinBcryptCost || c.Hasher.Cost > auth.MaxBcryptCost) {
			return invalid("hasher.cost", "must be between %d and %d, got %d", auth.MinBcryptCost, auth.MaxBcryptCost, c.Hasher.Cost)
		}
	case auth.AlgorithmArgon2id:
	default:
		return invalid("hasher.algorithm", "must be bcrypt or argon2id, got %q", c.Hasher.Algorithm)
	}
	if c.Hasher.Concurrency < 1 {
		return invalid("hasher.concurrency", "must be at least 1")
	}

	switch c.Token.Mode {
	case auth.TokenModeOpaque:
	case auth.TokenModeJWT:
		if len(c.Token.Secret) < auth.MinJWTSecretLength {
			return invalid("token.secret", "must be at least %d bytes in jwt mode", auth.MinJWTSecretLength)
		}
		if c.Token.TTL <= 0 {
			return invalid("token.ttl", "must be positive")
		}
	default:
		return invalid("token.mode", "must be opaque or jwt, got %q", c.Token.Mode)
	}
	return nil
}

// Addr returns the API listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// Redacted returns a copy safe to log or print.
func (c Config) Redacted() Config {
	if c.Token.Secret != "" {
		c.Token.Secret = "REDACTED"
	}
	if c.Store.DSN != "" && c.Store.Driver == DriverPostgres {
		c.Store.DSN = "REDACTED"
	}
	return c
}

func invalid(field, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("field", field).Errorf(field+" "+format, args...)
}
