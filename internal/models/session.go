package models

import (
	"fmt"
	"time"

	"github.com/nkiryanov/authgateway/internal/apperrors"
)

// Session is the authentication state of the current user or admin
type Session struct {
	Access    IssuedToken
	Refresh   IssuedToken
	Principal Principal
}

func (s Session) IsZero() bool {
	return s.Access.Value == "" && s.Refresh.Value == "" && s.Principal.IsZero()
}

// Validate checks the session invariants
// Access token must have an expiry, so does the refresh token
func (s Session) Validate() error {
	if s.Access.Value != "" && s.Access.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: access token without expiry", apperrors.ErrInvalidSession)
	}
	if s.Refresh.Value != "" && s.Refresh.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: refresh token without expiry", apperrors.ErrInvalidSession)
	}
	return nil
}

// Access token is usable now and will stay usable for at least the window
func (s Session) AccessFreshFor(now time.Time, window time.Duration) bool {
	return s.Access.Value != "" && now.Add(window).Before(s.Access.ExpiresAt)
}

// SessionUpdate is a partial session write. Nil fields are left untouched
type SessionUpdate struct {
	Access    *IssuedToken
	Refresh   *IssuedToken
	Principal *Principal
}

// Update that replaces the whole session
func FullUpdate(s Session) SessionUpdate {
	return SessionUpdate{
		Access:    &s.Access,
		Refresh:   &s.Refresh,
		Principal: &s.Principal,
	}
}

// Apply returns the session with the update applied
func (u SessionUpdate) Apply(s Session) Session {
	if u.Access != nil {
		s.Access = *u.Access
	}
	if u.Refresh != nil {
		s.Refresh = *u.Refresh
	}
	if u.Principal != nil {
		s.Principal = *u.Principal
	}
	return s
}
