package mapper

import (
	"time"

	"ai-chat-gateway-be/internal/entity"
	"ai-chat-gateway-be/internal/model"
	"ai-chat-gateway-be/pkg/store"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// Chat Mappers

func (m *ChatMapper) ChatToEntity(c *model.Chat) *entity.Chat {
	if c == nil {
		return nil
	}

	var deletedAt *time.Time
	if c.DeletedAt.Valid {
		t := c.DeletedAt.Time
		deletedAt = &t
	}

	var updatedAt *time.Time
	if !c.UpdatedAt.IsZero() {
		t := c.UpdatedAt
		updatedAt = &t
	}

	return &entity.Chat{
		Id:          c.Id,
		UserId:      c.UserId,
		Title:       c.Title,
		ResumeToken: c.ResumeToken,
		Connected:   c.Connected,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   updatedAt,
		DeletedAt:   deletedAt,
		IsDeleted:   c.DeletedAt.Valid,
	}
}

func (m *ChatMapper) ChatToModel(c *entity.Chat) *model.Chat {
	if c == nil {
		return nil
	}

	var deletedAt gorm.DeletedAt
	if c.DeletedAt != nil {
		deletedAt = gorm.DeletedAt{Time: *c.DeletedAt, Valid: true}
	} else if c.IsDeleted {
		deletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	}

	var updatedAt time.Time
	if c.UpdatedAt != nil {
		updatedAt = *c.UpdatedAt
	}

	return &model.Chat{
		Id:          c.Id,
		UserId:      c.UserId,
		Title:       c.Title,
		ResumeToken: c.ResumeToken,
		Connected:   c.Connected,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   updatedAt,
		DeletedAt:   deletedAt,
	}
}

// Message Mappers

func (m *ChatMapper) ChatMessageToEntity(msg *model.ChatMessage) (*entity.ChatMessage, error) {
	if msg == nil {
		return nil, nil
	}

	parts, err := store.UnmarshalParts(msg.Parts)
	if err != nil {
		return nil, err
	}

	var deletedAt *time.Time
	if msg.DeletedAt.Valid {
		t := msg.DeletedAt.Time
		deletedAt = &t
	}

	var updatedAt *time.Time
	if !msg.UpdatedAt.IsZero() {
		t := msg.UpdatedAt
		updatedAt = &t
	}

	return &entity.ChatMessage{
		Id:        msg.Id,
		ChatId:    msg.ChatId,
		Role:      msg.Role,
		Parts:     parts,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: updatedAt,
		DeletedAt: deletedAt,
		IsDeleted: msg.DeletedAt.Valid,
	}, nil
}

func (m *ChatMapper) ChatMessageToModel(msg *entity.ChatMessage) (*model.ChatMessage, error) {
	if msg == nil {
		return nil, nil
	}

	raw, err := store.MarshalParts(msg.Parts)
	if err != nil {
		return nil, err
	}

	var deletedAt gorm.DeletedAt
	if msg.DeletedAt != nil {
		deletedAt = gorm.DeletedAt{Time: *msg.DeletedAt, Valid: true}
	} else if msg.IsDeleted {
		deletedAt = gorm.DeletedAt{Time: time.Now(), Valid: true}
	}

	var updatedAt time.Time
	if msg.UpdatedAt != nil {
		updatedAt = *msg.UpdatedAt
	}

	return &model.ChatMessage{
		Id:        msg.Id,
		ChatId:    msg.ChatId,
		Role:      msg.Role,
		Parts:     datatypes.JSON(raw),
		CreatedAt: msg.CreatedAt,
		UpdatedAt: updatedAt,
		DeletedAt: deletedAt,
	}, nil
}

func (m *ChatMapper) ChatMessagesToEntities(messages []*model.ChatMessage) ([]*entity.ChatMessage, error) {
	entities := make([]*entity.ChatMessage, len(messages))
	for i, msg := range messages {
		e, err := m.ChatMessageToEntity(msg)
		if err != nil {
			return nil, err
		}
		entities[i] = e
	}
	return entities, nil
}
