// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/memory"
	"github.com/gatekeep/gatekeep/internal/httpapi"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/pkg/api"
)

type testAPI struct {
	handler http.Handler
	metrics *observability.Metrics
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })

	hasher, err := auth.NewBcryptHasher(4)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := auth.NewService(store, hasher, auth.OpaqueIssuer{}, auth.WithLogger(logger))
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return &testAPI{
		handler: httpapi.NewRouter(svc, httpapi.Options{Logger: logger, Metrics: metrics}),
		metrics: metrics,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) raw(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func register(username, email, password string) api.RegisterRequest {
	return api.RegisterRequest{Username: username, Email: email, Password: password}
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, api.PathHealth, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[api.HealthResponse](t, rec)
	assert.Equal(t, api.HealthResponse{Status: "OK", Message: "Server is running"}, body)
}

func TestRegister_Success(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, api.PathRegister, register("alice", "alice@example.com", "secret1"))

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode[api.RegisterResponse](t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, "User registered successfully", body.Message)
	assert.Equal(t, "alice", body.User.Username)
	assert.Equal(t, "alice@example.com", body.User.Email)
	assert.Len(t, body.User.ID, 26)
	assert.NotContains(t, rec.Body.String(), "secret1")
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestRegister_FormEncoded(t *testing.T) {
	a := newTestAPI(t)
	form := url.Values{"username": {"bob"}, "email": {"bob@example.com"}, "password": {"hunter22"}}

	rec := a.raw(t, http.MethodPost, api.PathRegister, "application/x-www-form-urlencoded", form.Encode())

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode[api.RegisterResponse](t, rec)
	assert.Equal(t, "bob", body.User.Username)
}

func TestRegister_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     api.RegisterRequest
		code    string
		message string
	}{
		{
			name:    "missing username",
			req:     register("", "a@b.co", "secret1"),
			code:    auth.CodeMissingFields,
			message: "Username, email, and password are required",
		},
		{
			name:    "whitespace password",
			req:     register("alice", "a@b.co", "       "),
			code:    auth.CodeMissingFields,
			message: "Username, email, and password are required",
		},
		{
			name:    "short username",
			req:     register("al", "a@b.co", "secret1"),
			code:    auth.CodeUsernameTooShort,
			message: "Username must be at least 3 characters long",
		},
		{
			name:    "short password",
			req:     register("alice", "a@b.co", "12345"),
			code:    auth.CodePasswordTooShort,
			message: "Password must be at least 6 characters long",
		},
		{
			name:    "invalid email",
			req:     register("alice", "not-an-email", "secret1"),
			code:    auth.CodeInvalidEmail,
			message: "Please enter a valid email address",
		},
		{
			name:    "username checked before email",
			req:     register("al", "not-an-email", "secret1"),
			code:    auth.CodeUsernameTooShort,
			message: "Username must be at least 3 characters long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t)

			rec := a.do(t, http.MethodPost, api.PathRegister, tt.req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode[api.ErrorResponse](t, rec)
			assert.False(t, body.Success)
			assert.Equal(t, tt.code, body.Error)
			assert.Equal(t, tt.message, body.Message)
		})
	}
}

func TestRegister_MalformedBodies(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "malformed JSON", contentType: "application/json", body: `{"username": "alice",`},
		{name: "JSON array", contentType: "application/json", body: `["alice"]`},
		{name: "non-string values", contentType: "application/json", body: `{"username": 123, "email": true, "password": null}`},
		{name: "empty body", contentType: "", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAPI(t)

			rec := a.raw(t, http.MethodPost, api.PathRegister, tt.contentType, tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode[api.ErrorResponse](t, rec)
			assert.Equal(t, auth.CodeMissingFields, body.Error)
		})
	}
}

func TestRegister_BodyTooLarge(t *testing.T) {
	a := newTestAPI(t)
	huge := `{"username": "` + strings.Repeat("a", 200<<10) + `"}`

	rec := a.raw(t, http.MethodPost, api.PathRegister, "application/json", huge)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	body := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "payload_too_large", body.Error)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	a := newTestAPI(t)
	require.Equal(t, http.StatusCreated,
		a.do(t, http.MethodPost, api.PathRegister, register("alice", "dup@example.com", "secret1")).Code)

	rec := a.do(t, http.MethodPost, api.PathRegister, register("alice2", "dup@example.com", "secret2"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, auth.CodeEmailTaken, body.Error)
	assert.Equal(t, "User with this email already exists", body.Message)
}

func TestLogin(t *testing.T) {
	a := newTestAPI(t)
	require.Equal(t, http.StatusCreated,
		a.do(t, http.MethodPost, api.PathRegister, register("carol", "carol@example.com", "password123")).Code)

	t.Run("success", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, api.PathLogin, api.LoginRequest{Email: "carol@example.com", Password: "password123"})

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[api.LoginResponse](t, rec)
		assert.True(t, body.Success)
		assert.Equal(t, "Login successful", body.Message)
		assert.Regexp(t, `^[0-9a-f]{64}$`, body.Token)
		assert.Equal(t, "carol", body.User.Username)
		assert.Equal(t, "carol@example.com", body.User.Email)
	})

	t.Run("tokens differ per login", func(t *testing.T) {
		req := api.LoginRequest{Email: "carol@example.com", Password: "password123"}
		first := decode[api.LoginResponse](t, a.do(t, http.MethodPost, api.PathLogin, req))
		second := decode[api.LoginResponse](t, a.do(t, http.MethodPost, api.PathLogin, req))
		assert.NotEqual(t, first.Token, second.Token)
	})

	t.Run("wrong password and unknown email are indistinguishable", func(t *testing.T) {
		wrong := a.do(t, http.MethodPost, api.PathLogin, api.LoginRequest{Email: "carol@example.com", Password: "wrongpassword"})
		unknown := a.do(t, http.MethodPost, api.PathLogin, api.LoginRequest{Email: "nobody@example.com", Password: "wrongpassword"})

		assert.Equal(t, http.StatusUnauthorized, wrong.Code)
		assert.Equal(t, http.StatusUnauthorized, unknown.Code)
		assert.JSONEq(t, wrong.Body.String(), unknown.Body.String())

		body := decode[api.ErrorResponse](t, wrong)
		assert.Equal(t, "Invalid credentials", body.Message)
		assert.Equal(t, auth.CodeInvalidCredentials, body.Error)
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, api.PathLogin, api.LoginRequest{Email: "carol@example.com"})

		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode[api.ErrorResponse](t, rec)
		assert.Equal(t, "Email and password are required", body.Message)
		assert.Equal(t, auth.CodeMissingFields, body.Error)
	})

	t.Run("form encoded", func(t *testing.T) {
		form := url.Values{"email": {"carol@example.com"}, "password": {"password123"}}
		rec := a.raw(t, http.MethodPost, api.PathLogin, "application/x-www-form-urlencoded", form.Encode())
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestUsers(t *testing.T) {
	a := newTestAPI(t)

	t.Run("empty", func(t *testing.T) {
		rec := a.do(t, http.MethodGet, api.PathUsers, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true,"count":0,"users":[]}`, rec.Body.String())
	})

	for _, r := range []api.RegisterRequest{
		register("alice", "alice@example.com", "secret1"),
		register("bob", "bob@example.com", "secret2"),
	} {
		require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, api.PathRegister, r).Code)
	}

	t.Run("lists accounts without hashes", func(t *testing.T) {
		rec := a.do(t, http.MethodGet, api.PathUsers, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[api.UsersResponse](t, rec)
		assert.True(t, body.Success)
		assert.Equal(t, 2, body.Count)
		require.Len(t, body.Users, 2)

		emails := []string{body.Users[0].Email, body.Users[1].Email}
		assert.ElementsMatch(t, []string{"alice@example.com", "bob@example.com"}, emails)
		for _, u := range body.Users {
			assert.False(t, u.CreatedAt.IsZero())
		}
		assert.NotContains(t, rec.Body.String(), "$2a$")
		assert.NotContains(t, rec.Body.String(), "password")
	})
}

func TestNotFound(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/nope"},
		{http.MethodGet, "/"},
		{http.MethodGet, api.PathRegister},
		{http.MethodDelete, api.PathUsers},
		{http.MethodPost, api.PathHealth},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := a.do(t, tt.method, tt.path, nil)

			require.Equal(t, http.StatusNotFound, rec.Code)
			assert.JSONEq(t, `{"success":false,"message":"Endpoint not found"}`, rec.Body.String())
		})
	}
}

func TestMetrics(t *testing.T) {
	a := newTestAPI(t)

	a.do(t, http.MethodPost, api.PathRegister, register("alice", "alice@example.com", "secret1"))
	a.do(t, http.MethodPost, api.PathRegister, register("al", "al@example.com", "secret1"))
	a.do(t, http.MethodPost, api.PathLogin, api.LoginRequest{Email: "alice@example.com", Password: "secret1"})
	a.do(t, http.MethodPost, api.PathLogin, api.LoginRequest{Email: "alice@example.com", Password: "bad-password"})
	a.do(t, http.MethodGet, "/missing", nil)

	assert.InDelta(t, 1, testutil.ToFloat64(a.metrics.Registrations.WithLabelValues(observability.OutcomeSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(a.metrics.Registrations.WithLabelValues(auth.CodeUsernameTooShort)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(a.metrics.Logins.WithLabelValues(observability.OutcomeSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(a.metrics.Logins.WithLabelValues(auth.CodeInvalidCredentials)), 0)

	assert.InDelta(t, 1, testutil.ToFloat64(a.metrics.HTTPRequests.WithLabelValues("POST", api.PathRegister, "201")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(a.metrics.HTTPRequests.WithLabelValues("POST", api.PathRegister, "400")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(a.metrics.HTTPRequests.WithLabelValues("GET", "unmatched", "404")), 0)
}

// failingService returns err from every call, or panics when panicMsg is set.
type failingService struct {
	err      error
	panicMsg string
}

func (f failingService) Register(context.Context, string, string, string) (*auth.PublicAccount, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return nil, f.err
}

func (f failingService) Login(context.Context, string, string) (*auth.LoginResult, error) {
	return nil, f.err
}

func (f failingService) ListAccounts(context.Context) ([]auth.AccountSummary, error) {
	return nil, f.err
}

func (f failingService) CountAccounts(context.Context) (int, error) {
	return 0, f.err
}

func TestInternalErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := httpapi.NewRouter(failingService{err: errors.New("disk on fire")}, httpapi.Options{Logger: logger})

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, api.PathRegister, `{"username":"alice","email":"a@b.co","password":"secret1"}`},
		{http.MethodPost, api.PathLogin, `{"email":"a@b.co","password":"secret1"}`},
		{http.MethodGet, api.PathUsers, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.JSONEq(t,
				`{"success":false,"message":"Internal server error","error":"internal_error"}`,
				rec.Body.String())
			assert.NotContains(t, rec.Body.String(), "disk on fire")
		})
	}
}

func TestPanicRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := httpapi.NewRouter(failingService{panicMsg: "boom"}, httpapi.Options{Logger: logger})

	req := httptest.NewRequest(http.MethodPost, api.PathRegister, strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[api.ErrorResponse](t, rec)
	assert.Equal(t, "Internal server error", body.Message)
	assert.Equal(t, auth.CodeInternal, body.Error)
}
