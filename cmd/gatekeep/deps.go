// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/memory"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
	"github.com/gatekeep/gatekeep/internal/auth/sqlite"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/internal/store"
	"github.com/gatekeep/gatekeep/internal/xdg"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener opens the configured account store.
	// Default: OpenStore
	StoreOpener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.AccountStore, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// LogWriter receives log output.
	// Default: os.Stderr
	LogWriter io.Writer
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// Migrator interface wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// migratorFactory creates a Migrator. Tests replace it.
var migratorFactory = func(dsn string) (Migrator, error) {
	m, err := store.NewMigrator(dsn)
	if err != nil {
		return nil, err //nolint:wrapcheck // store errors already carry codes
	}
	return m, nil
}

// OpenStore opens the account store selected by cfg.Store.Driver.
// For postgres it retries the connection, then applies migrations when enabled.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.AccountStore, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memory.New(), nil

	case config.DriverSQLite:
		if defaultPath, err := xdg.SQLitePath(); err == nil && cfg.Store.DSN == defaultPath {
			if err := xdg.EnsureDir(filepath.Dir(defaultPath)); err != nil {
				return nil, err //nolint:wrapcheck // xdg errors already carry codes
			}
		}
		//nolint:wrapcheck // sqlite errors already carry codes and context
		return sqlite.Open(ctx, cfg.Store.DSN)

	case config.DriverPostgres:
		pool, err := store.Connect(ctx, cfg.Store.DSN, store.ConnectOptions{
			Retries: cfg.Store.ConnectRetries,
			Logger:  logger,
		})
		if err != nil {
			return nil, oops.With("driver", cfg.Store.Driver).Wrap(err)
		}
		if cfg.Store.AutoMigrate {
			if err := migrateUp(cfg.Store.DSN, logger); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return postgres.NewAccountRepository(pool), nil

	default:
		return nil, oops.Code("CONFIG_INVALID").
			With("driver", cfg.Store.Driver).
			Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func migrateUp(dsn string, logger *slog.Logger) error {
	m, err := migratorFactory(dsn)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// readiness reports store health when the store supports it.
func readiness(s auth.AccountStore) observability.ReadinessChecker {
	pinger, ok := s.(auth.Pinger)
	if !ok {
		return nil
	}
	return pinger.Ping
}
