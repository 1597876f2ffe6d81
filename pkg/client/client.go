// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package client is a Go client for the gatekeep HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/gatekeep/gatekeep/pkg/api"
)

// DefaultTimeout is the HTTP client timeout used when none is supplied.
const DefaultTimeout = 10 * time.Second

// APIError is returned for any non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gatekeep: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("gatekeep: %d: %s", e.Status, e.Message)
}

// Client talks to one gatekeep server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for baseURL, e.g. "http://localhost:3000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) (*api.RegisterResponse, error) {
	var out api.RegisterResponse
	if err := c.do(ctx, http.MethodPost, api.PathRegister, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, req api.LoginRequest) (*api.LoginResponse, error) {
	var out api.LoginResponse
	if err := c.do(ctx, http.MethodPost, api.PathLogin, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Users lists all accounts.
func (c *Client) Users(ctx context.Context) (*api.UsersResponse, error) {
	var out api.UsersResponse
	if err := c.do(ctx, http.MethodGet, api.PathUsers, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls the health endpoint.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, api.PathHealth, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitHealthy polls the health endpoint every interval until it answers,
// giving up after attempts tries or when ctx ends.
func (c *Client) WaitHealthy(ctx context.Context, interval time.Duration, attempts uint64) error {
	if attempts == 0 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.NewConstant(interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := c.Health(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.In("client").
			Code("CLIENT_UNHEALTHY").
			With("url", c.baseURL).
			With("attempts", attempts).
			Wrap(err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return oops.In("client").Code("CLIENT_ENCODE_FAILED").Wrap(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return oops.In("client").Code("CLIENT_REQUEST_INVALID").With("path", path).Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return oops.In("client").Code("CLIENT_REQUEST_FAILED").With("path", path).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return oops.In("client").Code("CLIENT_READ_FAILED").With("path", path).Wrap(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var envelope api.ErrorResponse
		if json.Unmarshal(data, &envelope) == nil && envelope.Message != "" {
			apiErr.Code = envelope.Error
			apiErr.Message = envelope.Message
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return oops.In("client").Code("CLIENT_DECODE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
