// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package store manages the PostgreSQL connection pool and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions controls Connect.
type ConnectOptions struct {
	// Retries is the number of additional attempts after the first failure.
	Retries int
	// BaseDelay is the first backoff interval. Zero selects 250ms.
	BaseDelay time.Duration
	Logger    *slog.Logger
}

// Connect opens a pgx pool and pings it, retrying with exponential backoff
// so the service can start before the database is ready.
func Connect(ctx context.Context, dsn string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("STORE_DSN_INVALID").With("operation", "parse dsn").Wrap(err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base := opts.BaseDelay
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}

	backoff := retry.WithCappedDuration(5*time.Second, retry.NewExponential(base))
	backoff = retry.WithMaxRetries(uint64(retries), backoff)

	var pool *pgxpool.Pool
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			logger.Warn("database connect failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			logger.Warn("database ping failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "connect").
			With("attempts", attempt).
			Wrap(err)
	}
	return pool, nil
}
