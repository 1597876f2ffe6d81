// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/memory"
	"github.com/gatekeep/gatekeep/internal/httpapi"
	"github.com/gatekeep/gatekeep/pkg/client"
	"github.com/gatekeep/gatekeep/pkg/errutil"
)

func newSmokeTarget(t *testing.T) *httptest.Server {
	t.Helper()
	hasher, err := auth.NewBcryptHasher(4)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := auth.NewService(memory.New(), hasher, auth.OpaqueIssuer{}, auth.WithLogger(logger))
	require.NoError(t, err)

	srv := httptest.NewServer(httpapi.NewRouter(svc, httpapi.Options{Logger: logger}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSmoke_PassesAgainstRealServer(t *testing.T) {
	srv := newSmokeTarget(t)
	cmd := &cobra.Command{}
	out := new(bytes.Buffer)
	cmd.SetOut(out)

	err := runSmoke(context.Background(), cmd, &smokeConfig{url: srv.URL, attempts: 3, interval: 10 * time.Millisecond})

	require.NoError(t, err, out.String())
	assert.Contains(t, out.String(), "6. account is listed: ok")
	assert.Contains(t, out.String(), "All checks passed")
}

func TestSmoke_ReportsFailingStep(t *testing.T) {
	// Accepts everything, so duplicate registration is not rejected.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/health":
			_, _ = w.Write([]byte(`{"status":"OK","message":"Server is running"}`))
		case "/api/register":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"success":true,"user":{"id":"x","email":"someone-else@example.com"}}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	cmd := &cobra.Command{}
	out := new(bytes.Buffer)
	cmd.SetOut(out)

	err := runSmoke(context.Background(), cmd, &smokeConfig{url: srv.URL, attempts: 1, interval: time.Millisecond})

	errutil.AssertErrorCode(t, err, "SMOKE_FAILED")
	errutil.AssertErrorContext(t, err, "step", "register")
	assert.Contains(t, out.String(), "2. register: FAIL")
}

func TestSmoke_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cmd := &cobra.Command{}
	cmd.SetOut(new(bytes.Buffer))

	err := runSmoke(context.Background(), cmd, &smokeConfig{url: url, attempts: 2, interval: time.Millisecond})
	errutil.AssertErrorCode(t, err, "CLIENT_UNHEALTHY")
}

func TestExpectAPIError(t *testing.T) {
	assert.NoError(t, expectAPIError(&client.APIError{Status: 400, Code: "email_taken"}, 400, "email_taken"))
	assert.Error(t, expectAPIError(nil, 400, "email_taken"))
	assert.Error(t, expectAPIError(&client.APIError{Status: 401, Code: "invalid_credentials"}, 400, "email_taken"))
}
