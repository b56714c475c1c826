package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hongminglow/homeservices-identity/internal/models"
)

// ErrNotFound indicates a record does not exist or a conditional write matched nothing.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// Challenge is the otp/otpExpires pair. Backends always write both columns together.
type Challenge struct {
	Code      string
	ExpiresAt time.Time
}

// PendingRegistration carries the fields a resend overwrites on an unverified account.
type PendingRegistration struct {
	Email        string
	PasswordHash string
	FullName     string
	Role         models.Role
	Challenge    Challenge
}

// UserStore captures persistence operations on identities.
// Email is unique across all users.
type UserStore interface {
	// CreateUser inserts a new user; ErrAlreadyExists if the email is taken.
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	// UpdatePending rewrites credentials and the challenge of an unverified user;
	// ErrNotFound when no unverified user has that email.
	UpdatePending(ctx context.Context, reg PendingRegistration) (models.User, error)
	// SetOTP arms a fresh challenge regardless of verification state.
	SetOTP(ctx context.Context, id string, ch Challenge) error
	// ConsumeOTP clears the challenge and marks the user verified, only while the
	// stored code equals code and now is before its expiry; ErrNotFound otherwise.
	ConsumeOTP(ctx context.Context, id, code string, now time.Time) (models.User, error)
	// UpdateUser applies a whitelisted patch.
	UpdateUser(ctx context.Context, id string, patch Patch) (models.User, error)
}

// ProfileStore captures persistence operations on role-specific profiles.
// At most one profile exists per user id per role collection.
type ProfileStore interface {
	FindProfile(ctx context.Context, role models.Role, userID string) (models.Profile, error)
	// InsertProfile returns ErrAlreadyExists when the user already has a profile.
	InsertProfile(ctx context.Context, profile models.Profile) error
	UpdateProfile(ctx context.Context, role models.Role, userID string, patch Patch) (models.Profile, error)
}

// Store is a backend serving both entities.
type Store interface {
	UserStore
	ProfileStore
	Close()
}
