package storage

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hongminglow/homeservices-identity/internal/models"
)

// ErrInvalidPatch is returned when a patch carries a non-string value or no
// writable field at all.
var ErrInvalidPatch = errors.New("invalid patch")

// Whitelist lists the fields of one entity that generic update paths may write.
type Whitelist struct {
	entity string
	fields []string
}

var (
	UserFields            = newWhitelist("user", "full_name", "phone")
	CustomerProfileFields = newWhitelist("customer_profile", "full_name", "phone", "address")
	WorkerProfileFields   = newWhitelist("worker_profile", "bio", "location", "status")
)

func newWhitelist(entity string, fields ...string) Whitelist {
	fields = slices.Clone(fields)
	slices.Sort(fields)
	return Whitelist{entity: entity, fields: fields}
}

// ProfileFields returns the whitelist for a role's profile.
func ProfileFields(role models.Role) Whitelist {
	if role == models.RoleWorker {
		return WorkerProfileFields
	}
	return CustomerProfileFields
}

func (w Whitelist) Entity() string { return w.entity }

// Allows reports whether field is writable.
func (w Whitelist) Allows(field string) bool {
	_, ok := slices.BinarySearch(w.fields, field)
	return ok
}

// Filter builds a Patch from raw input. Keys outside the whitelist (password,
// email, role, id, verification state, ...) are dropped and returned in dropped.
func (w Whitelist) Filter(raw map[string]any) (patch Patch, dropped []string, err error) {
	values := make(map[string]string, len(raw))
	for key, value := range raw {
		if !w.Allows(key) {
			dropped = append(dropped, key)
			continue
		}
		s, ok := value.(string)
		if !ok {
			return Patch{}, nil, fmt.Errorf("%w: %s.%s must be a string", ErrInvalidPatch, w.entity, key)
		}
		values[key] = s
	}
	slices.Sort(dropped)
	if len(values) == 0 {
		return Patch{}, dropped, fmt.Errorf("%w: no updatable %s fields", ErrInvalidPatch, w.entity)
	}
	return Patch{entity: w.entity, values: values}, dropped, nil
}

// Patch is a set of whitelisted field assignments. It can only be built by
// Whitelist.Filter, so a backend receiving one never writes a forbidden field.
type Patch struct {
	entity string
	values map[string]string
}

func (p Patch) Entity() string { return p.entity }

func (p Patch) Len() int { return len(p.values) }

// Fields returns the patched field names in sorted order.
func (p Patch) Fields() []string {
	out := make([]string, 0, len(p.values))
	for k := range p.values {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (p Patch) Get(field string) (string, bool) {
	v, ok := p.values[field]
	return v, ok
}

// ApplyToUser copies the patched values onto u.
func (p Patch) ApplyToUser(u *models.User) {
	for field, value := range p.values {
		switch field {
		case "full_name":
			u.FullName = value
		case "phone":
			u.Phone = value
		}
	}
}

// ApplyToProfile copies the patched values onto pr.
func (p Patch) ApplyToProfile(pr *models.Profile) {
	for field, value := range p.values {
		switch field {
		case "full_name":
			pr.FullName = value
		case "phone":
			pr.Phone = value
		case "address":
			pr.Address = value
		case "bio":
			pr.Bio = value
		case "location":
			pr.Location = value
		case "status":
			pr.Status = value
		}
	}
}
