package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/homeservices-identity/internal/account"
	"github.com/hongminglow/homeservices-identity/internal/http/respond"
	"github.com/hongminglow/homeservices-identity/internal/models/dto"
)

// AuthHandler owns the registration, OTP verification, login and current-user endpoints.
type AuthHandler struct {
	svc    *account.Service
	logger *slog.Logger
}

// NewAuthHandler constructs the handler.
func NewAuthHandler(svc *account.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger}
}

// Register attaches auth routes to the router.
func (h *AuthHandler) Register(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		r.Post("/verify-otp", h.handleVerifyOTP)
		r.Post("/login", h.handleLogin)
		r.With(RequireUser(h.svc, h.logger)).Get("/me", h.handleMe)
	})
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Register(r.Context(), account.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Role:     req.Role,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	message := "Registration successful. Check your email for the verification code."
	if res.Resent {
		message = "Verification code resent. Check your email."
	}
	respond.JSON(w, http.StatusCreated, dto.RegisterResponse{
		Message: message,
		UserID:  res.UserID,
		Email:   res.Email,
	})
}

func (h *AuthHandler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.VerifyOTP(r.Context(), req.Email, req.OTP, req.Type)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.VerifyOTPResponse{Token: res.Token, User: res.User})
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.LoginResponse{
		Message:    "OTP sent to your email",
		RequireOTP: res.RequireOTP,
		Email:      res.Email,
	})
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r)
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "Not authorized")
		return
	}
	respond.JSON(w, http.StatusOK, dto.UserResponse{User: user})
}
