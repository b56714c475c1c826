package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorBody is the error response shape shared by every handler.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("respond: encode payload failed", "error", err)
	}
}

// Error writes an error response with the shared body.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Code: status, Message: message})
}
