package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/homeservices-identity/internal/account"
	"github.com/hongminglow/homeservices-identity/internal/http/respond"
	"github.com/hongminglow/homeservices-identity/internal/models/dto"
)

// ProfileHandler serves the caller's role-specific profile.
type ProfileHandler struct {
	svc    *account.Service
	logger *slog.Logger
}

func NewProfileHandler(svc *account.Service, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{svc: svc, logger: logger}
}

func (h *ProfileHandler) Register(r chi.Router) {
	r.Route("/profile", func(r chi.Router) {
		r.Use(RequireUser(h.svc, h.logger))
		r.Get("/", h.handleGet)
		r.Patch("/", h.handleUpdate)
	})
}

func (h *ProfileHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r)
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	profile, err := h.svc.Profile(r.Context(), actor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.ProfileResponse{Profile: profile})
}

func (h *ProfileHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(r)
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	var raw map[string]any
	if !decodeJSON(w, r, &raw) {
		return
	}
	profile, err := h.svc.UpdateProfile(r.Context(), actor, raw)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.ProfileResponse{Profile: profile})
}
