// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gatekeep/gatekeep/internal/auth"
	authpg "github.com/gatekeep/gatekeep/internal/auth/postgres"
	"github.com/gatekeep/gatekeep/internal/auth/sqlite"
	"github.com/gatekeep/gatekeep/internal/httpapi"
	"github.com/gatekeep/gatekeep/internal/store"
	"github.com/gatekeep/gatekeep/pkg/api"
	"github.com/gatekeep/gatekeep/pkg/client"
)

// testEnv holds the PostgreSQL container shared by the suite.
type testEnv struct {
	ctx       context.Context
	container testcontainers.Container
	connStr   string
	pool      *pgxpool.Pool
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.cleanup()
	}
})

func setupTestEnv() (*testEnv, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("gatekeep_test"),
		postgres.WithUsername("gatekeep"),
		postgres.WithPassword("gatekeep"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}
	_ = migrator.Close()

	pool, err := store.Connect(ctx, connStr, store.ConnectOptions{Retries: 3})
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &testEnv{ctx: ctx, container: container, connStr: connStr, pool: pool}, nil
}

func (e *testEnv) cleanup() {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(e.ctx)
	}
}

func (e *testEnv) truncate() {
	_, err := e.pool.Exec(e.ctx, "TRUNCATE accounts")
	Expect(err).NotTo(HaveOccurred())
}

// startAPI serves the API over accountStore and returns a client for it.
func startAPI(accountStore auth.AccountStore) *client.Client {
	hasher, err := auth.NewBcryptHasher(4)
	Expect(err).NotTo(HaveOccurred())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := auth.NewService(accountStore, hasher, auth.OpaqueIssuer{}, auth.WithLogger(logger))
	Expect(err).NotTo(HaveOccurred())

	srv := httptest.NewServer(httpapi.NewRouter(svc, httpapi.Options{Logger: logger}))
	DeferCleanup(srv.Close)
	return client.New(srv.URL)
}

func apiErrorOf(err error) *client.APIError {
	var apiErr *client.APIError
	Expect(errors.As(err, &apiErr)).To(BeTrue(), "expected an API error, got %v", err)
	return apiErr
}

// apiBehaviour runs the shared end-to-end checks against the client returned by newClient.
func apiBehaviour(newClient func() *client.Client) {
	var c *client.Client
	ctx := context.Background()

	BeforeEach(func() {
		c = newClient()
	})

	It("reports healthy", func() {
		h, err := c.Health(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Status).To(Equal("OK"))
		Expect(h.Message).To(Equal("Server is running"))
	})

	It("registers, logs in and lists an account", func() {
		reg, err := c.Register(ctx, api.RegisterRequest{Username: "testuser", Email: "test@example.com", Password: "password123"})
		Expect(err).NotTo(HaveOccurred())
		Expect(reg.Success).To(BeTrue())
		Expect(reg.User.Username).To(Equal("testuser"))

		login, err := c.Login(ctx, api.LoginRequest{Email: "test@example.com", Password: "password123"})
		Expect(err).NotTo(HaveOccurred())
		Expect(login.Token).To(MatchRegexp(`^[0-9a-f]{64}$`))
		Expect(login.User.ID).To(Equal(reg.User.ID))

		users, err := c.Users(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(users.Count).To(Equal(1))
		Expect(users.Users).To(HaveLen(1))
		Expect(users.Users[0].Email).To(Equal("test@example.com"))
	})

	It("rejects a duplicate email", func() {
		_, err := c.Register(ctx, api.RegisterRequest{Username: "testuser", Email: "dup@example.com", Password: "password123"})
		Expect(err).NotTo(HaveOccurred())

		_, err = c.Register(ctx, api.RegisterRequest{Username: "testuser2", Email: "dup@example.com", Password: "password123"})
		apiErr := apiErrorOf(err)
		Expect(apiErr.Status).To(Equal(http.StatusBadRequest))
		Expect(apiErr.Code).To(Equal(auth.CodeEmailTaken))
		Expect(apiErr.Message).To(Equal("User with this email already exists"))
	})

	It("rejects a wrong password and an unknown email identically", func() {
		_, err := c.Register(ctx, api.RegisterRequest{Username: "testuser", Email: "known@example.com", Password: "password123"})
		Expect(err).NotTo(HaveOccurred())

		_, wrongErr := c.Login(ctx, api.LoginRequest{Email: "known@example.com", Password: "wrongpassword"})
		_, unknownErr := c.Login(ctx, api.LoginRequest{Email: "unknown@example.com", Password: "wrongpassword"})

		Expect(apiErrorOf(wrongErr)).To(Equal(apiErrorOf(unknownErr)))
		Expect(apiErrorOf(wrongErr).Status).To(Equal(http.StatusUnauthorized))
	})

	It("admits exactly one of many concurrent registrations for one email", func() {
		const attempts = 10
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			created   int
			conflicts int
		)
		for i := range attempts {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := c.Register(ctx, api.RegisterRequest{
					Username: fmt.Sprintf("racer%d", i),
					Email:    "race@example.com",
					Password: "password123",
				})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					created++
					return
				}
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.Code == auth.CodeEmailTaken {
					conflicts++
				}
			}()
		}
		wg.Wait()

		Expect(created).To(Equal(1))
		Expect(conflicts).To(Equal(attempts - 1))

		users, err := c.Users(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(users.Count).To(Equal(1))
	})
}

var _ = Describe("HTTP API on PostgreSQL", func() {
	apiBehaviour(func() *client.Client {
		env.truncate()
		return startAPI(authpg.NewAccountRepository(nonClosingPool{env.pool}))
	})
})

var _ = Describe("HTTP API on SQLite", func() {
	apiBehaviour(func() *client.Client {
		s, err := sqlite.Open(context.Background(), filepath.Join(GinkgoT().TempDir(), "gatekeep.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)
		return startAPI(s)
	})
})

// nonClosingPool keeps the shared suite pool open when a repository is closed.
type nonClosingPool struct {
	*pgxpool.Pool
}

func (nonClosingPool) Close() {}
