package models

import (
	"time"

	"github.com/google/uuid"
)

// Session binds a bearer token to a user for a bounded validity window.
// A session is valid only while ExpiresAt lies in the future and the
// presented bearer string equals Token exactly; logout invalidates it by
// moving ExpiresAt to the current instant rather than deleting the row.
type Session struct {
	ID        uuid.UUID `json:"session_id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the session has not yet expired.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.ExpiresAt.After(now)
}
