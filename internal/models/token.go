package models

import (
	"time"
)

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token is empty or its expiry passed
func (t IssuedToken) ExpiredAt(now time.Time) bool {
	return t.Value == "" || !now.Before(t.ExpiresAt)
}

// Token pair issued by the API on login
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
