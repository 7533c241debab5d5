package entity

import (
	"time"

	"ai-chat-gateway-be/pkg/store"

	"github.com/google/uuid"
)

type ChatMessage struct {
	Id        uuid.UUID
	ChatId    uuid.UUID
	Role      string
	Parts     []store.MessagePart
	CreatedAt time.Time
	UpdatedAt *time.Time
	DeletedAt *time.Time
	IsDeleted bool
}
