// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/pkg/api"
)

// Response messages.
const (
	messageRegistered = "User registered successfully"
	messageLoggedIn   = "Login successful"
	messageHealthy    = "Server is running"
	messageNotFound   = "Endpoint not found"
	messageInternal   = "Internal server error"
	messageTooLarge   = "Request body too large"
)

// codePayloadTooLarge is reported when a body exceeds maxBodyBytes.
const codePayloadTooLarge = "payload_too_large"

var errorMessages = map[string]string{
	auth.CodeMissingFields:      "Username, email, and password are required",
	auth.CodeUsernameTooShort:   "Username must be at least 3 characters long",
	auth.CodePasswordTooShort:   "Password must be at least 6 characters long",
	auth.CodeInvalidEmail:       "Please enter a valid email address",
	auth.CodeEmailTaken:         "User with this email already exists",
	auth.CodeInvalidCredentials: "Invalid credentials",
	auth.CodeInternal:           messageInternal,
}

// loginMessages overrides errorMessages for the login endpoint.
var loginMessages = map[string]string{
	auth.CodeMissingFields: "Email and password are required",
}

func messageFor(code string, overrides map[string]string) string {
	if msg, ok := overrides[code]; ok {
		return msg
	}
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return messageInternal
}

func statusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation, auth.KindConflict:
		return http.StatusBadRequest
	case auth.KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps a service error onto the error envelope.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, overrides map[string]string) {
	code := auth.CodeOf(err)
	writeError(w, logger, statusFor(auth.KindOf(err)), code, messageFor(code, overrides))
}

func writeError(w http.ResponseWriter, logger *slog.Logger, status int, code, message string) {
	writeJSON(w, logger, status, api.ErrorResponse{Success: false, Message: message, Error: code})
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal JSON response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"success":false,"message":"Internal server error","error":"internal_error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Debug("failed to write HTTP response", "error", err)
	}
}

func toUser(a auth.PublicAccount) api.User {
	return api.User{ID: a.ID.String(), Username: a.Username, Email: a.Email}
}

func toSummaries(accounts []auth.AccountSummary) []api.UserSummary {
	out := make([]api.UserSummary, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, api.UserSummary{
			ID:        a.ID.String(),
			Username:  a.Username,
			Email:     a.Email,
			CreatedAt: a.CreatedAt,
		})
	}
	return out
}
