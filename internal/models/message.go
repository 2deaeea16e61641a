package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one append-only entry in a chat's transcript.
type Message struct {
	ID        uuid.UUID `json:"message_id"`
	ChatID    uuid.UUID `json:"chat_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
