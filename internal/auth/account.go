// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// Registration constraints.
const (
	MinUsernameLength = 3
	MinPasswordLength = 6
)

// emailRegex is intentionally loose: something@something.something, no whitespace.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Account is a persisted credential record.
type Account struct {
	ID           ulid.ULID
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// AccountSummary is the diagnostic view of an account. It never carries the hash.
type AccountSummary struct {
	ID        ulid.ULID `json:"id" yaml:"id"`
	Username  string    `json:"username" yaml:"username"`
	Email     string    `json:"email" yaml:"email"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// PublicAccount is the view of an account returned to clients.
type PublicAccount struct {
	ID       ulid.ULID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

// NewAccount creates an Account with a fresh ID and creation time.
// The caller is responsible for validating the inputs first.
func NewAccount(username, email, passwordHash string, now time.Time) *Account {
	return &Account{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}
}

// Public returns the client-facing view.
func (a *Account) Public() PublicAccount {
	return PublicAccount{ID: a.ID, Username: a.Username, Email: a.Email}
}

// Summary returns the diagnostic view.
func (a *Account) Summary() AccountSummary {
	return AccountSummary{ID: a.ID, Username: a.Username, Email: a.Email, CreatedAt: a.CreatedAt}
}

// Registration is the normalized input to Service.Register.
type Registration struct {
	Username string
	Email    string
	Password string
}

// Normalize trims surrounding whitespace from the username and email.
// The password is kept exactly as supplied.
func (r Registration) Normalize() Registration {
	return Registration{
		Username: strings.TrimSpace(r.Username),
		Email:    strings.TrimSpace(r.Email),
		Password: r.Password,
	}
}

// Validate applies the registration checks in order and returns the first failure.
// It expects a normalized Registration.
func (r Registration) Validate() error {
	if r.Username == "" || r.Email == "" || strings.TrimSpace(r.Password) == "" {
		return newError(CodeMissingFields, "username, email, and password are required")
	}
	if utf8.RuneCountInString(r.Username) < MinUsernameLength {
		return newError(CodeUsernameTooShort, "username must be at least %d characters long", MinUsernameLength)
	}
	if utf8.RuneCountInString(r.Password) < MinPasswordLength {
		return newError(CodePasswordTooShort, "password must be at least %d characters long", MinPasswordLength)
	}
	if !ValidEmail(r.Email) {
		return newError(CodeInvalidEmail, "invalid email address")
	}
	return nil
}

// ValidEmail reports whether email has the shape local@domain.tld.
func ValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// AccountStore persists accounts keyed by email.
//
// Implementations must reject a second account with the same email and report it
// as an error satisfying errors.Is(err, ErrEmailTaken). Email comparison is exact.
type AccountStore interface {
	// Exists reports whether an account with exactly this email exists.
	Exists(ctx context.Context, email string) (bool, error)

	// Insert persists a fully formed account and returns the stored record.
	Insert(ctx context.Context, account *Account) (*Account, error)

	// FindByEmail returns the full record, hash included, or ErrNotFound.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// FindByID returns the full record or ErrNotFound.
	FindByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// ListAll returns every account without hashes. Order is unspecified.
	ListAll(ctx context.Context) ([]AccountSummary, error)

	// Count returns the number of stored accounts.
	Count(ctx context.Context) (int, error)

	// Close releases the store's resources. Safe to call more than once.
	Close() error
}

// Pinger is implemented by stores that can report their readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
