package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/homeservices-identity/internal/account"
	"github.com/hongminglow/homeservices-identity/internal/http/respond"
	"github.com/hongminglow/homeservices-identity/internal/models/dto"
)

// WorkersHandler exposes worker profiles to authenticated users.
type WorkersHandler struct {
	svc    *account.Service
	logger *slog.Logger
}

func NewWorkersHandler(svc *account.Service, logger *slog.Logger) *WorkersHandler {
	return &WorkersHandler{svc: svc, logger: logger}
}

func (h *WorkersHandler) Register(r chi.Router) {
	r.With(RequireUser(h.svc, h.logger)).Get("/workers/user/{userId}", h.handleGetByUser)
}

func (h *WorkersHandler) handleGetByUser(w http.ResponseWriter, r *http.Request) {
	profile, owner, err := h.svc.WorkerProfile(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.WorkerProfileResponse{
		Profile: profile,
		User: dto.UserSummary{
			ID:       owner.ID,
			Email:    owner.Email,
			FullName: owner.FullName,
			Role:     owner.Role,
		},
	})
}
