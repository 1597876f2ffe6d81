// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/httpapi"
	"github.com/gatekeep/gatekeep/internal/observability"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server. It serves registration, login, account
listing and health endpoints until interrupted, then drains in-flight
requests and closes the account store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	config.BindFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StoreOpener == nil {
		deps.StoreOpener = OpenStore
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}

	logger := newLogger(cfg, deps.LogWriter)
	slog.SetDefault(logger)

	logger.Info("starting gatekeep",
		"addr", cfg.Addr(),
		"store_driver", cfg.Store.Driver,
		"hasher", cfg.Hasher.Algorithm,
		"token_mode", cfg.Token.Mode,
	)

	accountStore, err := deps.StoreOpener(ctx, cfg, logger)
	if err != nil {
		return oops.Code("STORE_OPEN_FAILED").With("driver", cfg.Store.Driver).Wrap(err)
	}
	defer func() {
		if closeErr := accountStore.Close(); closeErr != nil {
			logger.Warn("error closing account store", "error", closeErr)
		}
	}()

	svc, err := newService(cfg, accountStore, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Constructed even when disabled so the API always has metrics to record into.
	obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, readiness(accountStore), logger)
	if cfg.Metrics.Addr != "" {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}()

	listener, err := deps.ListenerFactory("tcp", cfg.Addr())
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.Addr()).Wrap(err)
	}

	httpServer := &http.Server{
		Handler: httpapi.NewRouter(svc, httpapi.Options{
			Logger:         logger,
			Metrics:        obsServer.Metrics(),
			RequestTimeout: cfg.HTTP.RequestTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Printf("gatekeep listening on %s\n", listener.Addr())
	logger.Info("gatekeep ready",
		"addr", listener.Addr().String(),
		"health", "http://"+listener.Addr().String()+"/api/health",
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		return oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newService builds the auth service for cfg on top of accountStore.
func newService(cfg *config.Config, accountStore auth.AccountStore, logger *slog.Logger) (*auth.Service, error) {
	hasher, err := auth.NewPasswordHasher(cfg.Hasher.Algorithm, cfg.Hasher.Cost)
	if err != nil {
		return nil, oops.With("operation", "create hasher").Wrap(err)
	}
	tokens, err := auth.NewTokenIssuer(cfg.Token.Mode, cfg.Token.Secret, cfg.Token.TTL)
	if err != nil {
		return nil, oops.With("operation", "create token issuer").Wrap(err)
	}
	svc, err := auth.NewService(accountStore, hasher, tokens,
		auth.WithLogger(logger),
		auth.WithStoreTimeout(cfg.Store.Timeout),
		auth.WithHashConcurrency(cfg.Hasher.Concurrency),
	)
	if err != nil {
		return nil, oops.With("operation", "create auth service").Wrap(err)
	}
	return svc, nil
}

// monitorServerErrors cancels ctx when a background server fails.
// It exits when an error is received, the channel is closed, or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
