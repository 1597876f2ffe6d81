// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package memory provides an in-process AccountStore.
package memory

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Store keeps accounts in memory. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	byEmail map[string]*auth.Account
	byID    map[ulid.ULID]*auth.Account
	order   []*auth.Account
	closed  bool
}

// Compile-time interface check.
var (
	_ auth.AccountStore = (*Store)(nil)
	_ auth.Pinger       = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{
		byEmail: make(map[string]*auth.Account),
		byID:    make(map[ulid.ULID]*auth.Account),
	}
}

var errClosed = oops.Code("STORE_CLOSED").Errorf("store is closed")

// Exists reports whether an account with email exists.
func (s *Store) Exists(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, oops.Code("ACCOUNT_EXISTS_FAILED").Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, errClosed
	}
	_, ok := s.byEmail[email]
	return ok, nil
}

// Insert stores a copy of account. The uniqueness check and the write happen
// under one lock.
func (s *Store) Insert(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_INSERT_FAILED").Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	if _, ok := s.byEmail[account.Email]; ok {
		return nil, oops.Code("ACCOUNT_INSERT_FAILED").
			With("email", account.Email).
			Wrap(auth.ErrEmailTaken)
	}
	stored := *account
	s.byEmail[stored.Email] = &stored
	s.byID[stored.ID] = &stored
	s.order = append(s.order, &stored)
	out := stored
	return &out, nil
}

// FindByEmail returns a copy of the account with email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	a, ok := s.byEmail[email]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("email", email).Wrap(auth.ErrNotFound)
	}
	out := *a
	return &out, nil
}

// FindByID returns a copy of the account with id.
func (s *Store) FindByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	a, ok := s.byID[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	out := *a
	return &out, nil
}

// ListAll returns summaries in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]auth.AccountSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	out := make([]auth.AccountSummary, 0, len(s.order))
	for _, a := range s.order {
		out = append(out, a.Summary())
	}
	return out, nil
}

// Count returns the number of accounts.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, oops.Code("ACCOUNT_COUNT_FAILED").Wrap(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errClosed
	}
	return len(s.order), nil
}

// Ping fails once the store is closed.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close drops all accounts. Further calls fail with STORE_CLOSED.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.byEmail = nil
	s.byID = nil
	s.order = nil
	return nil
}
