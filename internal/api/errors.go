// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/streamhib/restreamd/internal/log"
	"github.com/streamhib/restreamd/internal/session"
	"github.com/streamhib/restreamd/internal/users"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to HTTP status codes and logs the
// failure with the request-scoped logger.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, users.ErrInvalidAccount):
		code = http.StatusBadRequest
	case errors.Is(err, users.ErrBadCredentials):
		code = http.StatusUnauthorized
	case errors.Is(err, users.ErrRegistrationClosed):
		code = http.StatusForbidden
	}

	logger := log.FromContext(r.Context())
	evt := logger.Debug()
	if code >= http.StatusInternalServerError {
		evt = logger.Error()
	}
	evt.Err(err).
		Str("event", "api.request_failed").
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", code).
		Msg("request failed")

	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeUnauthorized writes a 401 response.
func writeUnauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

// decode parses a JSON request body into v.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return session.ErrInvalidInput
	}
	return nil
}
