// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package httpapi exposes the auth service over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/pkg/api"
)

// DefaultRequestTimeout bounds handler execution when Options.RequestTimeout is zero.
const DefaultRequestTimeout = 30 * time.Second

// maxBodyBytes matches the body size limit the API has always accepted.
const maxBodyBytes = 100 << 10

// Service is the subset of auth.Service used by the handlers.
type Service interface {
	Register(ctx context.Context, username, email, password string) (*auth.PublicAccount, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	ListAccounts(ctx context.Context) ([]auth.AccountSummary, error)
	CountAccounts(ctx context.Context) (int, error)
}

// Options configures the router.
type Options struct {
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	RequestTimeout time.Duration
}

type handler struct {
	svc     Service
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRouter returns the HTTP handler for the API.
// A nil Metrics records into a private registry.
func NewRouter(svc Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	h := &handler{svc: svc, logger: opts.Logger, metrics: opts.Metrics}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger, opts.Metrics))
	r.Use(recoverer(opts.Logger))
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Get(api.PathHealth, h.health)
	r.Post(api.PathRegister, h.register)
	r.Post(api.PathLogin, h.login)
	r.Get(api.PathUsers, h.users)

	r.NotFound(h.notFound)
	r.MethodNotAllowed(h.notFound)
	return r
}
