package contract

import (
	"context"

	"ai-chat-gateway-be/internal/entity"
	"ai-chat-gateway-be/internal/repository/specification"

	"github.com/google/uuid"
)

type ChatRepository interface {
	Create(ctx context.Context, chat *entity.Chat) error
	Update(ctx context.Context, chat *entity.Chat) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Chat, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Chat, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	// Targeted column updates; a full Save would race with concurrent writers.
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	UpdateResumeToken(ctx context.Context, id uuid.UUID, token string) error
	UpdateConnected(ctx context.Context, id uuid.UUID, connected bool) error
}
