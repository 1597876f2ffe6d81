// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gatekeep/gatekeep/pkg/errutil"
)

// DefaultStoreTimeout bounds every store call made by the service.
const DefaultStoreTimeout = 5 * time.Second

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token   string
	Account PublicAccount
}

// Service implements registration and login on top of an AccountStore.
type Service struct {
	store        AccountStore
	hasher       PasswordHasher
	tokens       TokenIssuer
	logger       *slog.Logger
	tracer       trace.Tracer
	storeTimeout time.Duration
	slots        chan struct{}
	now          func() time.Time

	// dummyHash is verified against when the email is unknown.
	dummyHash string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for internal failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithStoreTimeout bounds each store call. Non-positive values are ignored.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithHashConcurrency caps concurrent hash and verify operations.
// Non-positive values are ignored.
func WithHashConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. store, hasher and tokens are required.
// It hashes a random password once up front, so the first unknown-email login
// costs the same as every later one.
func NewService(store AccountStore, hasher PasswordHasher, tokens TokenIssuer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, oops.Errorf("account store is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	s := &Service{
		store:        store,
		hasher:       hasher,
		tokens:       tokens,
		logger:       slog.Default(),
		tracer:       otel.Tracer("gatekeep/auth"),
		storeTimeout: DefaultStoreTimeout,
		slots:        make(chan struct{}, runtime.NumCPU()),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	dummy, err := newDummyHash(hasher)
	if err != nil {
		return nil, err
	}
	s.dummyHash = dummy
	return s, nil
}

// Register validates the input, hashes the password and stores a new account.
func (s *Service) Register(ctx context.Context, username, email, password string) (*PublicAccount, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer span.End()

	reg := Registration{Username: username, Email: email, Password: password}.Normalize()
	if err := reg.Validate(); err != nil {
		return nil, s.fail(span, err)
	}

	exists, err := s.exists(ctx, reg.Email)
	if err != nil {
		return nil, s.internal(ctx, span, "check email", err)
	}
	if exists {
		return nil, s.fail(span, emailTaken())
	}

	hash, err := s.hash(ctx, reg.Password)
	if err != nil {
		return nil, s.internal(ctx, span, "hash password", err)
	}

	account := NewAccount(reg.Username, reg.Email, hash, s.now().UTC())
	stored, err := s.insert(ctx, account)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, s.fail(span, emailTaken())
		}
		return nil, s.internal(ctx, span, "insert account", err)
	}

	span.SetAttributes(attribute.String("account.id", stored.ID.String()))
	public := stored.Public()
	return &public, nil
}

// Login verifies the credentials and issues a token.
// Unknown email and wrong password produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer span.End()

	email = strings.TrimSpace(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return nil, s.fail(span, newError(CodeMissingFields, "email and password are required"))
	}

	account, err := s.findByEmail(ctx, email)
	found := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, s.internal(ctx, span, "find account", err)
	}

	var targetHash string
	if found {
		targetHash = account.PasswordHash
	} else {
		targetHash = s.dummyHash
	}

	// Always verify so response time does not reveal whether the email exists.
	valid, err := s.verify(ctx, password, targetHash)
	if err != nil {
		if !found {
			return nil, s.fail(span, invalidCredentials())
		}
		return nil, s.internal(ctx, span, "verify password", err)
	}
	if !found || !valid {
		return nil, s.fail(span, invalidCredentials())
	}

	token, err := s.tokens.Issue(ctx, account)
	if err != nil {
		return nil, s.internal(ctx, span, "issue token", err)
	}

	span.SetAttributes(attribute.String("account.id", account.ID.String()))
	return &LoginResult{Token: token, Account: account.Public()}, nil
}

// ListAccounts returns every account without hashes.
func (s *Service) ListAccounts(ctx context.Context) ([]AccountSummary, error) {
	ctx, span := s.tracer.Start(ctx, "auth.ListAccounts")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	accounts, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, s.internal(ctx, span, "list accounts", err)
	}
	if accounts == nil {
		accounts = []AccountSummary{}
	}
	return accounts, nil
}

// CountAccounts returns the number of stored accounts.
func (s *Service) CountAccounts(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "auth.CountAccounts")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, s.internal(ctx, span, "count accounts", err)
	}
	return n, nil
}

func (s *Service) exists(ctx context.Context, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Exists(ctx, email)
}

func (s *Service) insert(ctx context.Context, account *Account) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Insert(ctx, account)
}

func (s *Service) findByEmail(ctx context.Context, email string) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.FindByEmail(ctx, email)
}

func (s *Service) hash(ctx context.Context, password string) (string, error) {
	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	defer s.release()
	return s.hasher.Hash(password)
}

func (s *Service) verify(ctx context.Context, password, hash string) (bool, error) {
	if err := s.acquire(ctx); err != nil {
		return false, err
	}
	defer s.release()
	return s.hasher.Verify(password, hash)
}

func (s *Service) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return oops.Code("AUTH_HASH_SLOT_TIMEOUT").Wrap(ctx.Err())
	}
}

func (s *Service) release() {
	<-s.slots
}

// newDummyHash hashes a random password with hasher, so verifying against it
// costs the same as verifying a real account.
func newDummyHash(hasher PasswordHasher) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("AUTH_DUMMY_HASH_FAILED").Wrap(err)
	}
	hash, err := hasher.Hash(hex.EncodeToString(b))
	if err != nil {
		return "", oops.Code("AUTH_DUMMY_HASH_FAILED").Wrap(err)
	}
	return hash, nil
}

func (s *Service) fail(span trace.Span, err error) error {
	span.SetAttributes(attribute.String("auth.error_code", CodeOf(err)))
	return err
}

func (s *Service) internal(ctx context.Context, span trace.Span, operation string, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, operation)
	errutil.LogErrorContext(ctx, s.logger.With("operation", operation), "auth operation failed", cause)
	return s.fail(span, internalError(operation))
}

func emailTaken() error {
	return newError(CodeEmailTaken, "an account with this email already exists")
}

func invalidCredentials() error {
	return newError(CodeInvalidCredentials, "invalid credentials")
}
