package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat groups the messages of one conversation, owned by exactly one user.
type Chat struct {
	ID        uuid.UUID `json:"chat_id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
