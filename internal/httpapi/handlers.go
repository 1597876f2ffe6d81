// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/observability"
	"github.com/gatekeep/gatekeep/pkg/api"
)

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, api.HealthResponse{Status: "OK", Message: messageHealthy})
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	fields, ok := h.readFields(w, r)
	if !ok {
		return
	}

	account, err := h.svc.Register(r.Context(), fields["username"], fields["email"], fields["password"])
	if err != nil {
		h.metrics.RecordRegistration(auth.CodeOf(err))
		writeServiceError(w, h.logger, err, nil)
		return
	}

	h.metrics.RecordRegistration(observability.OutcomeSuccess)
	h.logger.InfoContext(r.Context(), "account registered",
		"account_id", account.ID.String(),
		"username", account.Username,
	)
	writeJSON(w, h.logger, http.StatusCreated, api.RegisterResponse{
		Success: true,
		Message: messageRegistered,
		User:    toUser(*account),
	})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	fields, ok := h.readFields(w, r)
	if !ok {
		return
	}

	result, err := h.svc.Login(r.Context(), fields["email"], fields["password"])
	if err != nil {
		h.metrics.RecordLogin(auth.CodeOf(err))
		writeServiceError(w, h.logger, err, loginMessages)
		return
	}

	h.metrics.RecordLogin(observability.OutcomeSuccess)
	h.logger.InfoContext(r.Context(), "account logged in", "account_id", result.Account.ID.String())
	writeJSON(w, h.logger, http.StatusOK, api.LoginResponse{
		Success: true,
		Message: messageLoggedIn,
		Token:   result.Token,
		User:    toUser(result.Account),
	})
}

func (h *handler) users(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.ListAccounts(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, nil)
		return
	}
	count, err := h.svc.CountAccounts(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, nil)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, api.UsersResponse{
		Success: true,
		Count:   count,
		Users:   toSummaries(accounts),
	})
}

func (h *handler) notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusNotFound, api.ErrorResponse{Success: false, Message: messageNotFound})
}

// readFields reads a JSON or form-encoded body into string fields.
// A malformed or non-object body yields no fields. Non-string JSON values are dropped.
// It writes a 413 and returns false when the body is too large.
func (h *handler) readFields(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	fields := make(map[string]string)

	var err error
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err = r.ParseForm(); err == nil {
			for key := range r.PostForm {
				fields[key] = r.PostForm.Get(key)
			}
		}
	} else {
		var raw map[string]any
		if err = json.NewDecoder(r.Body).Decode(&raw); err == nil {
			for key, value := range raw {
				if s, ok := value.(string); ok {
					fields[key] = s
				}
			}
		}
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, h.logger, http.StatusRequestEntityTooLarge, codePayloadTooLarge, messageTooLarge)
		return nil, false
	}
	return fields, true
}
