package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hongminglow/homeservices-identity/internal/auth"
	"github.com/hongminglow/homeservices-identity/internal/models"
	"github.com/hongminglow/homeservices-identity/internal/otp"
	"github.com/hongminglow/homeservices-identity/internal/storage"
)

// registerAttempts bounds how often Register re-evaluates after losing a race
// on the email unique index.
const registerAttempts = 3

// challengeAttempts bounds the search for a code that differs from the outstanding one.
const challengeAttempts = 10

// RegisterInput is the raw registration request.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
	Role     string
}

// Registration is the outcome of Credentials.Register: the stored user and the
// challenge that must be dispatched.
type Registration struct {
	User      models.User
	Challenge otp.Challenge
	Resent    bool
}

// Credentials owns user records: creation with deferred verification, lookups
// and password checks. The password hash never leaves through it unsanitised
// except to VerifyPassword.
type Credentials struct {
	users  storage.UserStore
	policy *otp.Policy
	newID  func() string
}

func NewCredentials(users storage.UserStore, policy *otp.Policy, newID func() string) *Credentials {
	return &Credentials{users: users, policy: policy, newID: newID}
}

// Register creates an unverified user, or, when the email belongs to an
// unverified user, overwrites its credentials and reissues the code.
// A verified email fails with ErrDuplicateEmail.
func (c *Credentials) Register(ctx context.Context, in RegisterInput) (Registration, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return Registration{}, invalid("Email and password are required")
	}
	role, ok := models.ParseRole(strings.TrimSpace(in.Role))
	if !ok {
		return Registration{}, invalid("Invalid role")
	}
	fullName := strings.TrimSpace(in.FullName)

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return Registration{}, fmt.Errorf("hash password: %w", err)
	}

	for range registerAttempts {
		existing, found, err := c.FindByEmail(ctx, email)
		if err != nil {
			return Registration{}, err
		}

		var previous string
		if found {
			if existing.IsVerified {
				return Registration{}, ErrDuplicateEmail
			}
			if existing.OTP != nil {
				previous = *existing.OTP
			}
		}
		ch, err := c.freshChallenge(previous)
		if err != nil {
			return Registration{}, err
		}

		if found {
			user, err := c.users.UpdatePending(ctx, storage.PendingRegistration{
				Email:        email,
				PasswordHash: hash,
				FullName:     fullName,
				Role:         role,
				Challenge:    storage.Challenge{Code: ch.Code, ExpiresAt: ch.ExpiresAt},
			})
			if errors.Is(err, storage.ErrNotFound) {
				// verified or removed since the lookup
				continue
			}
			if err != nil {
				return Registration{}, fmt.Errorf("update pending registration: %w", err)
			}
			return Registration{User: user, Challenge: ch, Resent: true}, nil
		}

		code, expires := ch.Code, ch.ExpiresAt
		user, err := c.users.CreateUser(ctx, models.User{
			ID:           c.newID(),
			Email:        email,
			PasswordHash: hash,
			FullName:     fullName,
			Role:         role,
			OTP:          &code,
			OTPExpires:   &expires,
		})
		if errors.Is(err, storage.ErrAlreadyExists) {
			// a concurrent registration won the unique index
			continue
		}
		if err != nil {
			return Registration{}, fmt.Errorf("create user: %w", err)
		}
		return Registration{User: user, Challenge: ch}, nil
	}
	return Registration{}, fmt.Errorf("register %s: gave up after %d contended attempts", email, registerAttempts)
}

// freshChallenge generates a code distinct from previous.
func (c *Credentials) freshChallenge(previous string) (otp.Challenge, error) {
	for range challengeAttempts {
		ch, err := c.policy.Generate()
		if err != nil {
			return otp.Challenge{}, err
		}
		if ch.Code != previous {
			return ch, nil
		}
	}
	return otp.Challenge{}, fmt.Errorf("generate otp: no fresh code after %d attempts", challengeAttempts)
}

// FindByEmail looks a user up. Absence is reported through found, not an error.
func (c *Credentials) FindByEmail(ctx context.Context, email string) (user models.User, found bool, err error) {
	user, err = c.users.FindByEmail(ctx, normalizeEmail(email))
	return lookup(user, err)
}

// FindByID looks a user up. Absence is reported through found, not an error.
func (c *Credentials) FindByID(ctx context.Context, id string) (user models.User, found bool, err error) {
	user, err = c.users.FindByID(ctx, id)
	return lookup(user, err)
}

func lookup(user models.User, err error) (models.User, bool, error) {
	switch {
	case err == nil:
		return user, true, nil
	case errors.Is(err, storage.ErrNotFound):
		return models.User{}, false, nil
	default:
		return models.User{}, false, fmt.Errorf("find user: %w", err)
	}
}

// VerifyPassword compares candidate with the user's hash in constant time.
func (c *Credentials) VerifyPassword(user models.User, candidate string) (bool, error) {
	return auth.ComparePassword(user.PasswordHash, candidate)
}

var dummyHash = sync.OnceValue(func() string {
	hash, _ := auth.HashPassword("timing-equaliser")
	return hash
})

// burnPasswordCheck spends the same bcrypt work as a real comparison so an
// unknown email is not distinguishable by latency.
func burnPasswordCheck(candidate string) {
	_, _ = auth.ComparePassword(dummyHash(), candidate)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
