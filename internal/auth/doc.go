// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package auth provides account registration and login.
//
// # Domain Types
//
// An Account is created with NewAccount after its Registration has passed
// Validate. Stores only ever receive accounts built this way, so every stored
// record satisfies the registration rules.
//
// # Errors
//
// Service methods return oops errors carrying one of the Code* constants.
// KindOf maps an error to validation, conflict, auth or internal. Internal
// errors never carry their cause; the cause is logged where it happened.
//
// # Services
//
// Service coordinates an AccountStore, a PasswordHasher and a TokenIssuer.
// It is safe for concurrent use.
package auth
