package chat

import (
	"context"

	"ai-chat-gateway-be/pkg/store"
)

// MessageStore is the persistence collaborator consumed by the orchestration
// core. Failures here must never crash the task loop; call sites degrade and
// log.
type MessageStore interface {
	// SaveUserMessage persists a user prompt and returns the new message id.
	SaveUserMessage(ctx context.Context, chatID, content string) (string, error)

	// SaveAssistantMessage persists an accumulated assistant message under a
	// caller-chosen id, reasoning part first when present, then text.
	SaveAssistantMessage(ctx context.Context, chatID, messageID string, parts []store.MessagePart) error

	UpdateResumeToken(ctx context.Context, chatID, token string) error
	GetResumeToken(ctx context.Context, chatID string) (string, error)

	// UpdateConnectionStatus records whether any subscriber is attached.
	UpdateConnectionStatus(ctx context.Context, chatID string, connected bool) error

	// GenerateAndSaveTitle derives a short title from the first prompt,
	// persists it, and returns it.
	GenerateAndSaveTitle(ctx context.Context, chatID, firstMessage string) (string, error)

	// VerifyChatOwnership reports whether ownerID may attach to chatID.
	VerifyChatOwnership(ctx context.Context, chatID, ownerID string) (bool, error)

	// MessageCount returns the number of persisted messages for chatID, used
	// to seed a recreated session's counter.
	MessageCount(ctx context.Context, chatID string) (int, error)
}
