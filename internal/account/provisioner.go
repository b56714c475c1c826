package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hongminglow/homeservices-identity/internal/models"
	"github.com/hongminglow/homeservices-identity/internal/storage"
)

// Provisioner creates the single role-specific profile of a verified user.
type Provisioner struct {
	profiles storage.ProfileStore
	newID    func() string
	now      func() time.Time
}

func NewProvisioner(profiles storage.ProfileStore, newID func() string) *Provisioner {
	return &Provisioner{profiles: profiles, newID: newID, now: time.Now}
}

// EnsureProfile inserts a minimal profile unless one exists. Two concurrent
// calls for the same user both succeed; the profile store's unique user index
// rejects the loser, which is treated as "already provisioned".
func (p *Provisioner) EnsureProfile(ctx context.Context, user models.User) (created bool, err error) {
	if !user.Role.Valid() {
		return false, fmt.Errorf("provision profile for %s: unknown role %q", user.ID, user.Role)
	}

	_, err = p.profiles.FindProfile(ctx, user.Role, user.ID)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("find profile: %w", err)
	}

	profile := models.NewProfileFor(user, p.newID(), p.now().UTC())
	if err := p.profiles.InsertProfile(ctx, profile); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return false, nil
		}
		return false, fmt.Errorf("insert profile: %w", err)
	}
	return true, nil
}
