package models

import "time"

// WorkerStatusOffline is the status every new worker profile starts with.
const WorkerStatusOffline = "offline"

// Profile is the one-to-one, role-specific extension of a User.
// Customer profiles use FullName/Email/Phone/Address; worker profiles use Bio/Location/Status.
type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Role      Role      `json:"role"`
	FullName  string    `json:"full_name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	Location  string    `json:"location,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewProfileFor builds the minimal profile record provisioned for a verified user.
func NewProfileFor(user User, id string, now time.Time) Profile {
	p := Profile{
		ID:        id,
		UserID:    user.ID,
		Role:      user.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if user.Role == RoleWorker {
		p.Status = WorkerStatusOffline
		return p
	}
	p.FullName = user.FullName
	p.Email = user.Email
	return p
}
