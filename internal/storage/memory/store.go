// Package memory is an in-process storage backend for local development and
// tests. It enforces the same uniqueness rules as the database backends.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hongminglow/homeservices-identity/internal/models"
	"github.com/hongminglow/homeservices-identity/internal/storage"
)

var _ storage.Store = (*Store)(nil)

type profileKey struct {
	role   models.Role
	userID string
}

// Store keeps users and profiles in maps guarded by a single mutex.
type Store struct {
	mu       sync.Mutex
	users    map[string]models.User // by id
	byEmail  map[string]string      // email -> id
	profiles map[profileKey]models.Profile
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:    make(map[string]models.User),
		byEmail:  make(map[string]string),
		profiles: make(map[profileKey]models.Profile),
		now:      time.Now,
	}
}

func (s *Store) Close() {}

func (s *Store) CreateUser(_ context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[user.Email]; taken {
		return models.User{}, storage.ErrAlreadyExists
	}
	if _, taken := s.users[user.ID]; taken {
		return models.User{}, storage.ErrAlreadyExists
	}
	now := s.now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now
	user = cloneUser(user)
	s.users[user.ID] = user
	s.byEmail[user.Email] = user.ID
	return cloneUser(user), nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) FindByID(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) UpdatePending(_ context.Context, reg storage.PendingRegistration) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[reg.Email]
	if !ok || s.users[id].IsVerified {
		return models.User{}, storage.ErrNotFound
	}
	u := s.users[id]
	u.PasswordHash = reg.PasswordHash
	u.FullName = reg.FullName
	u.Role = reg.Role
	setChallenge(&u, reg.Challenge)
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return cloneUser(u), nil
}

func (s *Store) SetOTP(_ context.Context, id string, ch storage.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	setChallenge(&u, ch)
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return nil
}

func (s *Store) ConsumeOTP(_ context.Context, id, code string, now time.Time) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok || !u.HasChallenge() || *u.OTP != code || !now.Before(*u.OTPExpires) {
		return models.User{}, storage.ErrNotFound
	}
	u.OTP, u.OTPExpires = nil, nil
	u.IsVerified = true
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return cloneUser(u), nil
}

func (s *Store) UpdateUser(_ context.Context, id string, patch storage.Patch) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	patch.ApplyToUser(&u)
	u.UpdatedAt = s.now().UTC()
	s.users[id] = u
	return cloneUser(u), nil
}

func (s *Store) FindProfile(_ context.Context, role models.Role, userID string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileKey{role: role, userID: userID}]
	if !ok {
		return models.Profile{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) InsertProfile(_ context.Context, profile models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey{role: profile.Role, userID: profile.UserID}
	if _, exists := s.profiles[key]; exists {
		return storage.ErrAlreadyExists
	}
	s.profiles[key] = profile
	return nil
}

func (s *Store) UpdateProfile(_ context.Context, role models.Role, userID string, patch storage.Patch) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey{role: role, userID: userID}
	p, ok := s.profiles[key]
	if !ok {
		return models.Profile{}, storage.ErrNotFound
	}
	patch.ApplyToProfile(&p)
	p.UpdatedAt = s.now().UTC()
	s.profiles[key] = p
	return p, nil
}

// CountProfiles returns how many profiles exist for userID across both roles.
func (s *Store) CountProfiles(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.profiles {
		if key.userID == userID {
			n++
		}
	}
	return n
}

// CountUsers returns the number of stored users.
func (s *Store) CountUsers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// DeleteUser removes a user and their profiles.
func (s *Store) DeleteUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[id]; ok {
		delete(s.byEmail, u.Email)
		delete(s.users, id)
	}
	for key := range s.profiles {
		if key.userID == id {
			delete(s.profiles, key)
		}
	}
}

func setChallenge(u *models.User, ch storage.Challenge) {
	code, expires := ch.Code, ch.ExpiresAt
	u.OTP, u.OTPExpires = &code, &expires
}

// cloneUser detaches pointer fields so callers cannot mutate stored state.
func cloneUser(u models.User) models.User {
	if u.OTP != nil {
		code := *u.OTP
		u.OTP = &code
	}
	if u.OTPExpires != nil {
		exp := *u.OTPExpires
		u.OTPExpires = &exp
	}
	return u
}
