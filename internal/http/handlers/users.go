package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/homeservices-identity/internal/account"
	"github.com/hongminglow/homeservices-identity/internal/http/respond"
	"github.com/hongminglow/homeservices-identity/internal/models/dto"
)

// UsersHandler lets an authenticated user edit their own record.
type UsersHandler struct {
	svc    *account.Service
	logger *slog.Logger
}

func NewUsersHandler(svc *account.Service, logger *slog.Logger) *UsersHandler {
	return &UsersHandler{svc: svc, logger: logger}
}

func (h *UsersHandler) Register(r chi.Router) {
	r.With(RequireUser(h.svc, h.logger)).Patch("/users/{id}", h.handleUpdate)
}

func (h *UsersHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r)
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	var raw map[string]any
	if !decodeJSON(w, r, &raw) {
		return
	}
	user, err := h.svc.UpdateUser(r.Context(), actor, chi.URLParam(r, "id"), raw)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.UserResponse{User: user})
}
