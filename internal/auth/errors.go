// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// ErrNotFound is returned by stores when a requested account does not exist.
var ErrNotFound = errors.New("not found")

// ErrEmailTaken is returned by stores when an insert violates email uniqueness.
var ErrEmailTaken = errors.New("email already taken")

// Kind classifies an error for the caller.
type Kind string

// Error kinds.
const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindAuth       Kind = "auth"
	KindInternal   Kind = "internal"
)

// Error codes returned by the service.
const (
	CodeMissingFields      = "missing_fields"
	CodeUsernameTooShort   = "username_too_short"
	CodePasswordTooShort   = "password_too_short"
	CodeInvalidEmail       = "invalid_email"
	CodeEmailTaken         = "email_taken"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInternal           = "internal_error"
)

var codeKinds = map[string]Kind{
	CodeMissingFields:      KindValidation,
	CodeUsernameTooShort:   KindValidation,
	CodePasswordTooShort:   KindValidation,
	CodeInvalidEmail:       KindValidation,
	CodeEmailTaken:         KindConflict,
	CodeInvalidCredentials: KindAuth,
	CodeInternal:           KindInternal,
}

// CodeOf returns the service error code carried by err.
// Errors that did not originate in the service report CodeInternal.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return CodeInternal
	}
	code := fmt.Sprint(oopsErr.Code())
	if _, known := codeKinds[code]; !known {
		return CodeInternal
	}
	return code
}

// KindOf returns the kind of err. Unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return codeKinds[CodeOf(err)]
}

func newError(code, format string, args ...any) error {
	return oops.In("auth").Code(code).Errorf(format, args...)
}

// internalError is the sanitized error handed to callers. The cause is
// logged by the service and deliberately not wrapped.
func internalError(operation string) error {
	return oops.In("auth").
		Code(CodeInternal).
		With("operation", operation).
		Errorf("internal error")
}
