// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package storetest holds behavioural tests shared by every AccountStore driver.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) auth.AccountStore

// Run exercises the AccountStore contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("insert then find by email", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		acct := newAccount("alice", "a@x.io")
		stored, err := s.Insert(ctx, acct)
		require.NoError(t, err)
		assert.Equal(t, acct.ID, stored.ID)

		got, err := s.FindByEmail(ctx, "a@x.io")
		require.NoError(t, err)
		assert.Equal(t, acct.ID, got.ID)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, acct.PasswordHash, got.PasswordHash)
		assert.WithinDuration(t, acct.CreatedAt, got.CreatedAt, time.Millisecond)

		byID, err := s.FindByID(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, "a@x.io", byID.Email)
	})

	t.Run("exists is exact", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		ok, err := s.Exists(ctx, "a@x.io")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Insert(ctx, newAccount("alice", "a@x.io"))
		require.NoError(t, err)

		ok, err = s.Exists(ctx, "a@x.io")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Exists(ctx, "A@X.IO")
		require.NoError(t, err)
		assert.False(t, ok, "email comparison must be case-sensitive")
	})

	t.Run("missing account is not found", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		_, err := s.FindByEmail(ctx, "ghost@x.io")
		assert.True(t, errors.Is(err, auth.ErrNotFound), "got %v", err)

		_, err = s.FindByID(ctx, ulid.Make())
		assert.True(t, errors.Is(err, auth.ErrNotFound), "got %v", err)
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		_, err := s.Insert(ctx, newAccount("alice", "a@x.io"))
		require.NoError(t, err)

		_, err = s.Insert(ctx, newAccount("bob", "a@x.io"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrEmailTaken), "got %v", err)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("usernames need not be unique", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		_, err := s.Insert(ctx, newAccount("alice", "a@x.io"))
		require.NoError(t, err)
		_, err = s.Insert(ctx, newAccount("alice", "b@x.io"))
		require.NoError(t, err)
	})

	t.Run("list and count", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		list, err := s.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)

		for i := range 3 {
			_, err := s.Insert(ctx, newAccount(fmt.Sprintf("user%d", i), fmt.Sprintf("u%d@x.io", i)))
			require.NoError(t, err)
		}

		list, err = s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		emails := make([]string, 0, len(list))
		for _, a := range list {
			emails = append(emails, a.Email)
			assert.NotZero(t, a.ID)
			assert.False(t, a.CreatedAt.IsZero())
		}
		assert.ElementsMatch(t, []string{"u0@x.io", "u1@x.io", "u2@x.io"}, emails)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("concurrent inserts of one email admit exactly one", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		defer s.Close()

		const workers = 8
		var ok, taken atomic.Int32
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Insert(ctx, newAccount(fmt.Sprintf("racer%d", i), "race@x.io"))
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, auth.ErrEmailTaken):
					taken.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), ok.Load())
		assert.Equal(t, int32(workers-1), taken.Load())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Close())
		assert.NoError(t, s.Close())
	})
}

func newAccount(username, email string) *auth.Account {
	return auth.NewAccount(username, email, "$2a$10$not-a-real-hash", time.Now().UTC().Truncate(time.Millisecond))
}
