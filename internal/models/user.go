package models

import "time"

// Role identifies which side of the marketplace an account belongs to.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleWorker   Role = "worker"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleWorker
}

// ParseRole maps raw input to a Role. Empty input defaults to RoleCustomer.
func ParseRole(raw string) (Role, bool) {
	if raw == "" {
		return RoleCustomer, true
	}
	role := Role(raw)
	return role, role.Valid()
}

// User captures application-facing fields for an identity.
// Secret fields never serialize.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name"`
	Phone        string     `json:"phone"`
	Role         Role       `json:"role"`
	IsVerified   bool       `json:"isVerified"`
	OTP          *string    `json:"-"`
	OTPExpires   *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// HasChallenge reports whether an OTP challenge is outstanding.
func (u User) HasChallenge() bool {
	return u.OTP != nil && u.OTPExpires != nil
}

// Sanitized returns a copy with the password hash and OTP challenge removed.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	u.OTP = nil
	u.OTPExpires = nil
	return u
}
