package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type CreateChatRequest struct {
	Title string `json:"title"`
}

type ChatResponse struct {
	Id        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Connected bool       `json:"connected"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ChatMessageResponse carries one rendered message. Parts is the typed part
// array in its wire form, passed through untouched for the client to render.
type ChatMessageResponse struct {
	Id        uuid.UUID       `json:"id"`
	Role      string          `json:"role"`
	Parts     json.RawMessage `json:"parts"`
	CreatedAt time.Time       `json:"created_at"`
}
