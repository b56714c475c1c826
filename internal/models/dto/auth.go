package dto

import "github.com/hongminglow/homeservices-identity/internal/models"

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type RegisterResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	Email   string `json:"email"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Message    string `json:"message"`
	RequireOTP bool   `json:"requireOtp"`
	Email      string `json:"email"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
	Type  string `json:"type"`
}

type VerifyOTPResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

type UserResponse struct {
	User models.User `json:"user"`
}

type ProfileResponse struct {
	Profile models.Profile `json:"profile"`
}

// UserSummary is the public projection of a user attached to a worker profile.
type UserSummary struct {
	ID       string      `json:"id"`
	Email    string      `json:"email"`
	FullName string      `json:"full_name"`
	Role     models.Role `json:"role"`
}

type WorkerProfileResponse struct {
	Profile models.Profile `json:"profile"`
	User    UserSummary    `json:"user"`
}
