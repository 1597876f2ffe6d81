// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package sqlite implements auth.AccountStore on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id            TEXT PRIMARY KEY,
    username      TEXT NOT NULL,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS accounts_created_at_idx ON accounts (created_at);
`

// timeLayout is fixed width and always UTC, so text order is chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type accountRow struct {
	ID           string `db:"id"`
	Username     string `db:"username"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    string `db:"created_at"`
}

// Store implements auth.AccountStore using SQLite.
type Store struct {
	db        *sqlx.DB
	closeOnce sync.Once
	closeErr  error
}

// Compile-time interface check.
var (
	_ auth.AccountStore = (*Store)(nil)
	_ auth.Pinger       = (*Store)(nil)
)

// Open opens the database at dsn and creates the schema if needed.
// A single connection is used, which also keeps ":memory:" databases alive.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.Code("STORE_OPEN_FAILED").With("driver", "sqlite").Wrap(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, oops.Code("STORE_SCHEMA_FAILED").With("driver", "sqlite").Wrap(err)
	}
	return &Store{db: db}, nil
}

// Exists reports whether an account with email exists.
func (s *Store) Exists(ctx context.Context, email string) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM accounts WHERE email = ?)`, email); err != nil {
		return false, oops.Code("ACCOUNT_EXISTS_FAILED").
			With("operation", "check account exists").
			With("email", email).
			Wrap(err)
	}
	return exists, nil
}

// Insert stores a new account.
func (s *Store) Insert(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	row := accountRow{
		ID:           account.ID.String(),
		Username:     account.Username,
		Email:        account.Email,
		PasswordHash: account.PasswordHash,
		CreatedAt:    account.CreatedAt.UTC().Format(timeLayout),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO accounts (id, username, email, password_hash, created_at)
		VALUES (:id, :username, :email, :password_hash, :created_at)
	`, row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, oops.Code("ACCOUNT_INSERT_FAILED").
				With("operation", "insert account").
				With("email", account.Email).
				Wrap(auth.ErrEmailTaken)
		}
		return nil, oops.Code("ACCOUNT_INSERT_FAILED").
			With("operation", "insert account").
			With("email", account.Email).
			Wrap(err)
	}
	stored := *account
	return &stored, nil
}

// FindByEmail retrieves an account by exact email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, username, email, password_hash, created_at
		FROM accounts
		WHERE email = ?
	`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_EMAIL_FAILED").
			With("operation", "get account by email").
			With("email", email).
			Wrap(err)
	}
	return row.toAccount()
}

// FindByID retrieves an account by ID.
func (s *Store) FindByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, username, email, password_hash, created_at
		FROM accounts
		WHERE id = ?
	`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return row.toAccount()
}

// ListAll returns every account, oldest first, without hashes.
func (s *Store) ListAll(ctx context.Context) ([]auth.AccountSummary, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, username, email, '' AS password_hash, created_at
		FROM accounts
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "list accounts").Wrap(err)
	}

	out := make([]auth.AccountSummary, 0, len(rows))
	for _, row := range rows {
		account, err := row.toAccount()
		if err != nil {
			return nil, oops.Code("ACCOUNT_LIST_FAILED").With("operation", "decode account row").Wrap(err)
		}
		out = append(out, account.Summary())
	}
	return out, nil
}

// Count returns the number of accounts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM accounts`); err != nil {
		return 0, oops.Code("ACCOUNT_COUNT_FAILED").With("operation", "count accounts").Wrap(err)
	}
	return n, nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return oops.Code("STORE_PING_FAILED").Wrap(err)
	}
	return nil
}

// Close closes the database once; later calls return the first result.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if err := s.db.Close(); err != nil {
			s.closeErr = oops.Code("STORE_CLOSE_FAILED").Wrap(err)
		}
	})
	return s.closeErr
}

func (r accountRow) toAccount() (*auth.Account, error) {
	id, err := ulid.Parse(r.ID)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", r.ID).Wrap(err)
	}
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_TIME").With("created_at", r.CreatedAt).Wrap(err)
	}
	return &auth.Account{
		ID:           id,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		CreatedAt:    created,
	}, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *moderncsqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
