// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/pkg/api"
	"github.com/gatekeep/gatekeep/pkg/client"
)

// smokeConfig holds configuration for the smoke command.
type smokeConfig struct {
	url      string
	attempts uint64
	interval time.Duration
}

// NewSmokeCmd creates the smoke subcommand.
func NewSmokeCmd() *cobra.Command {
	cfg := &smokeConfig{}

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Exercise a running server end to end",
		Long: `Exercise a running server: health, registration, login, duplicate
registration, wrong-password login and account listing. Each run uses a
fresh email address, so it is safe against a shared server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSmoke(cmd.Context(), cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.url, "url", "http://localhost:3000", "base URL of the server")
	cmd.Flags().Uint64Var(&cfg.attempts, "wait-attempts", 10, "health check attempts before giving up")
	cmd.Flags().DurationVar(&cfg.interval, "wait-interval", 500*time.Millisecond, "delay between health check attempts")
	return cmd
}

// smokeStep is one check run against the server.
type smokeStep struct {
	name string
	run  func(ctx context.Context) error
}

func runSmoke(ctx context.Context, cmd *cobra.Command, cfg *smokeConfig) error {
	c := client.New(cfg.url)

	cmd.Printf("Waiting for %s...\n", cfg.url)
	if err := c.WaitHealthy(ctx, cfg.interval, cfg.attempts); err != nil {
		return err //nolint:wrapcheck // already coded
	}

	email := "smoke-" + uuid.NewString() + "@example.com"
	const password = "password123"

	steps := []smokeStep{
		{"health", func(ctx context.Context) error {
			h, err := c.Health(ctx)
			if err != nil {
				return err
			}
			if h.Status != "OK" {
				return oops.Errorf("unexpected status %q", h.Status)
			}
			return nil
		}},
		{"register", func(ctx context.Context) error {
			resp, err := c.Register(ctx, api.RegisterRequest{Username: "smokeuser", Email: email, Password: password})
			if err != nil {
				return err
			}
			if resp.User.Email != email || resp.User.ID == "" {
				return oops.Errorf("unexpected user %+v", resp.User)
			}
			return nil
		}},
		{"login", func(ctx context.Context) error {
			resp, err := c.Login(ctx, api.LoginRequest{Email: email, Password: password})
			if err != nil {
				return err
			}
			if resp.Token == "" {
				return oops.Errorf("empty token")
			}
			return nil
		}},
		{"duplicate registration is rejected", func(ctx context.Context) error {
			_, err := c.Register(ctx, api.RegisterRequest{Username: "smokeuser2", Email: email, Password: password})
			return expectAPIError(err, http.StatusBadRequest, auth.CodeEmailTaken)
		}},
		{"wrong password is rejected", func(ctx context.Context) error {
			_, err := c.Login(ctx, api.LoginRequest{Email: email, Password: "wrongpassword"})
			return expectAPIError(err, http.StatusUnauthorized, auth.CodeInvalidCredentials)
		}},
		{"account is listed", func(ctx context.Context) error {
			resp, err := c.Users(ctx)
			if err != nil {
				return err
			}
			for _, u := range resp.Users {
				if u.Email == email {
					return nil
				}
			}
			return oops.Errorf("account %s not in list of %d", email, resp.Count)
		}},
	}

	for i, step := range steps {
		if err := step.run(ctx); err != nil {
			cmd.Printf("%d. %s: FAIL (%v)\n", i+1, step.name, err)
			return oops.Code("SMOKE_FAILED").With("step", step.name).Wrap(err)
		}
		cmd.Printf("%d. %s: ok\n", i+1, step.name)
	}
	cmd.Println("All checks passed")
	return nil
}

// expectAPIError checks that err is an API error with the given status and code.
func expectAPIError(err error, status int, code string) error {
	if err == nil {
		return oops.Errorf("expected %d %s, got success", status, code)
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.Status != status || apiErr.Code != code {
		return oops.Errorf("expected %d %s, got %d %s", status, code, apiErr.Status, apiErr.Code)
	}
	return nil
}
