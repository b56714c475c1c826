package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hongminglow/homeservices-identity/internal/account"
	"github.com/hongminglow/homeservices-identity/internal/http/respond"
)

const maxBodyBytes = 1 << 20

// writeError maps a flow error to its status and client message. Anything
// unrecognised is a 500 whose cause is logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var verr *account.ValidationError
	switch {
	case errors.As(err, &verr):
		respond.Error(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, account.ErrDuplicateEmail):
		respond.Error(w, http.StatusBadRequest, "Email already in use")
	case errors.Is(err, account.ErrInvalidCredentials):
		respond.Error(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, account.ErrInvalidOTP):
		respond.Error(w, http.StatusBadRequest, "Invalid OTP")
	case errors.Is(err, account.ErrExpiredOTP):
		respond.Error(w, http.StatusBadRequest, "OTP expired")
	case errors.Is(err, account.ErrUserNotFound):
		respond.Error(w, http.StatusBadRequest, "User not found")
	case errors.Is(err, account.ErrUnauthorized):
		respond.Error(w, http.StatusUnauthorized, "Not authorized")
	case errors.Is(err, account.ErrForbidden):
		respond.Error(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, account.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "Not found")
	default:
		logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respond.Error(w, http.StatusInternalServerError, "Server error")
	}
}

// decodeJSON reads a single JSON document from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			respond.Error(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		respond.Error(w, http.StatusBadRequest, "Invalid JSON payload")
		return false
	}
	return true
}
