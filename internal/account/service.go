// Package account implements the OTP-gated identity workflows: registration
// with deferred email verification, password login that always requires a
// second factor, idempotent profile provisioning and bearer-token resolution.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hongminglow/homeservices-identity/internal/auth"
	"github.com/hongminglow/homeservices-identity/internal/models"
	"github.com/hongminglow/homeservices-identity/internal/notify"
	"github.com/hongminglow/homeservices-identity/internal/otp"
	"github.com/hongminglow/homeservices-identity/internal/storage"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Users      storage.UserStore
	Profiles   storage.ProfileStore
	OTP        *otp.Policy
	Tokens     *auth.TokenManager
	Dispatcher *notify.Dispatcher
	Logger     *slog.Logger
	// NewID generates user and profile ids. Defaults to random UUIDs.
	NewID func() string
}

// Service orchestrates the registration and login flows.
type Service struct {
	users       storage.UserStore
	profiles    storage.ProfileStore
	credentials *Credentials
	provisioner *Provisioner
	otp         *otp.Policy
	tokens      *auth.TokenManager
	dispatcher  *notify.Dispatcher
	logger      *slog.Logger
}

func NewService(d Deps) *Service {
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	if d.OTP == nil {
		d.OTP = otp.NewPolicy()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		users:       d.Users,
		profiles:    d.Profiles,
		credentials: NewCredentials(d.Users, d.OTP, d.NewID),
		provisioner: NewProvisioner(d.Profiles, d.NewID),
		otp:         d.OTP,
		tokens:      d.Tokens,
		dispatcher:  d.Dispatcher,
		logger:      d.Logger,
	}
}

type RegisterResult struct {
	UserID string
	Email  string
	Resent bool
}

// Register creates (or, for an unverified email, refreshes) an account and
// sends a verification code. The account stays pending until VerifyOTP.
func (s *Service) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	reg, err := s.credentials.Register(ctx, in)
	if err != nil {
		return RegisterResult{}, err
	}

	s.logger.InfoContext(ctx, "registration pending verification",
		"user_id", reg.User.ID, "role", reg.User.Role, "resent", reg.Resent)
	s.sendCode(ctx, reg.User.Email, reg.Challenge, otp.PurposeRegister)

	return RegisterResult{UserID: reg.User.ID, Email: reg.User.Email, Resent: reg.Resent}, nil
}

type LoginResult struct {
	Email      string
	RequireOTP bool
}

// Login checks the password and arms a fresh second-factor challenge. It never
// returns a token; unknown email and wrong password are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, invalid("Email and password are required")
	}

	user, found, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	if !found {
		burnPasswordCheck(password)
		s.logger.InfoContext(ctx, "login rejected", "reason", "unknown email")
		return LoginResult{}, ErrInvalidCredentials
	}

	ok, err := s.credentials.VerifyPassword(user, password)
	if err != nil {
		return LoginResult{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.logger.InfoContext(ctx, "login rejected", "reason", "password mismatch", "user_id", user.ID)
		return LoginResult{}, ErrInvalidCredentials
	}

	ch, err := s.otp.Generate()
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.users.SetOTP(ctx, user.ID, storage.Challenge{Code: ch.Code, ExpiresAt: ch.ExpiresAt}); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("arm login challenge: %w", err)
	}

	s.logger.InfoContext(ctx, "login awaiting second factor", "user_id", user.ID)
	s.sendCode(ctx, user.Email, ch, otp.PurposeLogin)

	return LoginResult{Email: user.Email, RequireOTP: true}, nil
}

type VerifyResult struct {
	Token string
	User  models.User
}

// VerifyOTP consumes a challenge for either flow. On success the user is
// verified, its profile is ensured and a bearer token is issued.
func (s *Service) VerifyOTP(ctx context.Context, email, code, purpose string) (VerifyResult, error) {
	p, err := otp.ParsePurpose(strings.TrimSpace(purpose))
	if err != nil {
		return VerifyResult{}, invalid("Invalid OTP type")
	}
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return VerifyResult{}, invalid("Email and OTP are required")
	}

	user, found, err := s.credentials.FindByEmail(ctx, email)
	if err != nil {
		return VerifyResult{}, err
	}
	if !found {
		return VerifyResult{}, ErrUserNotFound
	}
	if !user.HasChallenge() {
		return VerifyResult{}, ErrInvalidOTP
	}

	now := s.otp.Now()
	switch outcome := otp.Check(code, *user.OTP, *user.OTPExpires, now); outcome {
	case otp.Expired:
		s.logger.InfoContext(ctx, "otp rejected", "user_id", user.ID, "purpose", p, "outcome", outcome)
		return VerifyResult{}, ErrExpiredOTP
	case otp.Mismatch:
		s.logger.InfoContext(ctx, "otp rejected", "user_id", user.ID, "purpose", p, "outcome", outcome)
		return VerifyResult{}, ErrInvalidOTP
	}

	user, err = s.users.ConsumeOTP(ctx, user.ID, code, now)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// consumed or re-armed by a concurrent request
			return VerifyResult{}, ErrInvalidOTP
		}
		return VerifyResult{}, fmt.Errorf("consume otp: %w", err)
	}

	created, err := s.provisioner.EnsureProfile(ctx, user)
	if err != nil {
		return VerifyResult{}, err
	}
	if created {
		s.logger.InfoContext(ctx, "profile provisioned", "user_id", user.ID, "role", user.Role)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("issue token: %w", err)
	}

	s.logger.InfoContext(ctx, "otp verified", "user_id", user.ID, "purpose", p)
	return VerifyResult{Token: token, User: user.Sanitized()}, nil
}

// ResolveCurrentUser verifies a bearer token and re-reads the user it names.
// Claims are not trusted for mutable fields.
func (s *Service) ResolveCurrentUser(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrUnauthorized
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	user, found, err := s.credentials.FindByID(ctx, claims.ID)
	if err != nil {
		return models.User{}, err
	}
	if !found {
		return models.User{}, ErrNotFound
	}
	return user.Sanitized(), nil
}

// UpdateUser applies the user whitelist to raw and writes the result.
// Only the account owner may update it.
func (s *Service) UpdateUser(ctx context.Context, actor models.User, targetID string, raw map[string]any) (models.User, error) {
	if actor.ID == "" || actor.ID != targetID {
		return models.User{}, ErrForbidden
	}
	patch, dropped, err := storage.UserFields.Filter(raw)
	if err != nil {
		return models.User{}, invalid(patchMessage(err))
	}
	if len(dropped) > 0 {
		s.logger.WarnContext(ctx, "ignored non-updatable user fields", "user_id", actor.ID, "fields", dropped)
	}

	user, err := s.users.UpdateUser(ctx, actor.ID, patch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return user.Sanitized(), nil
}

// Profile returns the actor's role-specific profile.
func (s *Service) Profile(ctx context.Context, actor models.User) (models.Profile, error) {
	profile, err := s.profiles.FindProfile(ctx, actor.Role, actor.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Profile{}, ErrNotFound
		}
		return models.Profile{}, fmt.Errorf("find profile: %w", err)
	}
	return profile, nil
}

// WorkerProfile returns the worker profile owned by userID together with its owner.
func (s *Service) WorkerProfile(ctx context.Context, userID string) (models.Profile, models.User, error) {
	profile, err := s.profiles.FindProfile(ctx, models.RoleWorker, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Profile{}, models.User{}, ErrNotFound
		}
		return models.Profile{}, models.User{}, fmt.Errorf("find worker profile: %w", err)
	}
	owner, found, err := s.credentials.FindByID(ctx, userID)
	if err != nil {
		return models.Profile{}, models.User{}, err
	}
	if !found {
		return models.Profile{}, models.User{}, ErrNotFound
	}
	return profile, owner.Sanitized(), nil
}

// UpdateProfile applies the role's profile whitelist to raw and writes the result.
func (s *Service) UpdateProfile(ctx context.Context, actor models.User, raw map[string]any) (models.Profile, error) {
	patch, dropped, err := storage.ProfileFields(actor.Role).Filter(raw)
	if err != nil {
		return models.Profile{}, invalid(patchMessage(err))
	}
	if len(dropped) > 0 {
		s.logger.WarnContext(ctx, "ignored non-updatable profile fields", "user_id", actor.ID, "fields", dropped)
	}

	profile, err := s.profiles.UpdateProfile(ctx, actor.Role, actor.ID, patch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.Profile{}, ErrNotFound
		}
		return models.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return profile, nil
}

func (s *Service) sendCode(ctx context.Context, email string, ch otp.Challenge, purpose otp.Purpose) {
	if s.dispatcher == nil {
		s.logger.WarnContext(ctx, "no notification dispatcher configured; code not sent", "purpose", purpose)
		return
	}
	s.dispatcher.Dispatch(ctx, notify.OTPMessage(email, ch.Code, string(purpose), otp.TTL))
}

func patchMessage(err error) string {
	if errors.Is(err, storage.ErrInvalidPatch) {
		return strings.TrimPrefix(err.Error(), storage.ErrInvalidPatch.Error()+": ")
	}
	return err.Error()
}
