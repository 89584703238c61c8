package models

import (
	"time"

	"github.com/google/uuid"
)

// Public site user
type User struct {
	ID              uuid.UUID `json:"id"`
	Username        string    `json:"username"`
	FullName        string    `json:"full_name"`
	Email           string    `json:"email"`
	IsEmailVerified bool      `json:"is_email_verified"`
	CreatedAt       time.Time `json:"create_at"`
}

// Admin console user
type Admin struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	IsActive  bool      `json:"is_active"`
	RoleID    int64     `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Principal is the authenticated identity. At most one of the fields is set
type Principal struct {
	User  *User  `json:"user,omitempty"`
	Admin *Admin `json:"admin,omitempty"`
}

func (p Principal) IsZero() bool {
	return p.User == nil && p.Admin == nil
}

// Name of the principal to show to humans
func (p Principal) Username() string {
	switch {
	case p.User != nil:
		return p.User.Username
	case p.Admin != nil:
		return p.Admin.Username
	default:
		return ""
	}
}
