package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-chat-gateway-be/internal/chat"
	"ai-chat-gateway-be/internal/dto"
	"ai-chat-gateway-be/internal/entity"
	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/internal/repository/memory"
	"ai-chat-gateway-be/internal/repository/specification"
	"ai-chat-gateway-be/internal/repository/unitofwork"
	"ai-chat-gateway-be/pkg/llm"
	"ai-chat-gateway-be/pkg/store"

	"github.com/google/uuid"
)

const titlePrompt = `Write a short title (at most six words) for a conversation that starts with the following message. Reply with the title only, no quotes.

Message: %s`

// IChatService covers both the REST surface and the persistence contract the
// websocket orchestration core writes through.
type IChatService interface {
	chat.MessageStore

	CreateChat(ctx context.Context, userId uuid.UUID, req *dto.CreateChatRequest) (*dto.ChatResponse, error)
	ListChats(ctx context.Context, userId uuid.UUID) ([]*dto.ChatResponse, error)
	GetHistory(ctx context.Context, userId uuid.UUID, chatId uuid.UUID) ([]*dto.ChatMessageResponse, error)
	DeleteChat(ctx context.Context, userId uuid.UUID, chatId uuid.UUID) error
}

type chatService struct {
	uowFactory unitofwork.RepositoryFactory
	titler     llm.LLMProvider
	ownership  *memory.OwnershipCache
	logger     logger.ILogger
}

func NewChatService(
	uowFactory unitofwork.RepositoryFactory,
	titler llm.LLMProvider,
	log logger.ILogger,
) IChatService {
	return &chatService{
		uowFactory: uowFactory,
		titler:     titler,
		ownership:  memory.NewOwnershipCache(),
		logger:     log,
	}
}

// REST surface

func (s *chatService) CreateChat(ctx context.Context, userId uuid.UUID, req *dto.CreateChatRequest) (*dto.ChatResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	c := entity.Chat{
		Id:        uuid.New(),
		UserId:    userId,
		Title:     req.Title,
		CreatedAt: time.Now(),
	}
	if err := uow.ChatRepository().Create(ctx, &c); err != nil {
		return nil, err
	}
	return chatToResponse(&c), nil
}

func (s *chatService) ListChats(ctx context.Context, userId uuid.UUID) ([]*dto.ChatResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	chats, err := uow.ChatRepository().FindAll(ctx,
		specification.ByUserId{UserId: userId},
		specification.OrderBy{Field: "updated_at", Desc: true},
	)
	if err != nil {
		return nil, err
	}

	out := make([]*dto.ChatResponse, len(chats))
	for i, c := range chats {
		out[i] = chatToResponse(c)
	}
	return out, nil
}

func (s *chatService) GetHistory(ctx context.Context, userId uuid.UUID, chatId uuid.UUID) ([]*dto.ChatMessageResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	c, err := uow.ChatRepository().FindOne(ctx, specification.ByID{ID: chatId})
	if err != nil {
		return nil, err
	}
	if c == nil || c.UserId != userId {
		return nil, fmt.Errorf("chat not found")
	}

	messages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByChatId{ChatId: chatId},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, err
	}

	out := make([]*dto.ChatMessageResponse, len(messages))
	for i, msg := range messages {
		raw, err := store.MarshalParts(msg.Parts)
		if err != nil {
			return nil, err
		}
		out[i] = &dto.ChatMessageResponse{
			Id:        msg.Id,
			Role:      msg.Role,
			Parts:     raw,
			CreatedAt: msg.CreatedAt,
		}
	}
	return out, nil
}

func (s *chatService) DeleteChat(ctx context.Context, userId uuid.UUID, chatId uuid.UUID) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	c, err := uow.ChatRepository().FindOne(ctx, specification.ByID{ID: chatId})
	if err != nil {
		return err
	}
	if c == nil || c.UserId != userId {
		return fmt.Errorf("chat not found")
	}

	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback()

	if err := uow.ChatMessageRepository().DeleteByChatId(ctx, chatId); err != nil {
		return err
	}
	if err := uow.ChatRepository().Delete(ctx, chatId); err != nil {
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}

	s.ownership.Invalidate(chatId.String(), userId.String())
	return nil
}

// MessageStore contract

func (s *chatService) SaveUserMessage(ctx context.Context, chatID, content string) (string, error) {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid chat id: %w", err)
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)

	msg := entity.ChatMessage{
		Id:        uuid.New(),
		ChatId:    id,
		Role:      store.RoleUser,
		Parts:     []store.MessagePart{store.TextPart{Text: content}},
		CreatedAt: time.Now(),
	}
	if err := uow.ChatMessageRepository().Create(ctx, &msg); err != nil {
		return "", err
	}
	return msg.Id.String(), nil
}

func (s *chatService) SaveAssistantMessage(ctx context.Context, chatID, messageID string, parts []store.MessagePart) error {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat id: %w", err)
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)

	msg := entity.ChatMessage{
		Id:        messageUUID(chatID, messageID),
		ChatId:    id,
		Role:      store.RoleAssistant,
		Parts:     parts,
		CreatedAt: time.Now(),
	}
	return uow.ChatMessageRepository().Create(ctx, &msg)
}

func (s *chatService) UpdateResumeToken(ctx context.Context, chatID, token string) error {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat id: %w", err)
	}
	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.ChatRepository().UpdateResumeToken(ctx, id, token)
}

func (s *chatService) GetResumeToken(ctx context.Context, chatID string) (string, error) {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid chat id: %w", err)
	}
	uow := s.uowFactory.NewUnitOfWork(ctx)
	c, err := uow.ChatRepository().FindOne(ctx, specification.ByID{ID: id})
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", nil
	}
	return c.ResumeToken, nil
}

func (s *chatService) UpdateConnectionStatus(ctx context.Context, chatID string, connected bool) error {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat id: %w", err)
	}
	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.ChatRepository().UpdateConnected(ctx, id, connected)
}

func (s *chatService) GenerateAndSaveTitle(ctx context.Context, chatID, firstMessage string) (string, error) {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid chat id: %w", err)
	}

	raw, err := s.titler.Generate(ctx, fmt.Sprintf(titlePrompt, firstMessage),
		llm.WithTemperature(0.3),
		llm.WithMaxTokens(30),
	)
	if err != nil {
		return "", fmt.Errorf("title generation failed: %w", err)
	}

	title := sanitizeTitle(raw)
	if title == "" {
		return "", fmt.Errorf("title generation produced empty output")
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.ChatRepository().UpdateTitle(ctx, id, title); err != nil {
		return "", err
	}
	return title, nil
}

func (s *chatService) VerifyChatOwnership(ctx context.Context, chatID, ownerID string) (bool, error) {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return false, fmt.Errorf("invalid chat id: %w", err)
	}
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return false, fmt.Errorf("invalid owner id: %w", err)
	}

	if owned, hit := s.ownership.Get(chatID, ownerID); hit {
		return owned, nil
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	c, err := uow.ChatRepository().FindOne(ctx, specification.ByID{ID: id})
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}
	owned := c.UserId == owner
	s.ownership.Set(chatID, ownerID, owned)
	return owned, nil
}

func (s *chatService) MessageCount(ctx context.Context, chatID string) (int, error) {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id: %w", err)
	}
	uow := s.uowFactory.NewUnitOfWork(ctx)
	n, err := uow.ChatMessageRepository().Count(ctx, specification.ByChatId{ChatId: id})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// messageUUID maps an engine-assigned message id onto a stable UUID primary
// key. Engine ids are opaque strings, not UUIDs; deriving deterministically
// keeps a retried save idempotent.
func messageUUID(chatID, messageID string) uuid.UUID {
	if id, err := uuid.Parse(messageID); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chatID+"/"+messageID))
}

// sanitizeTitle reduces model output to a single clean line.
func sanitizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(title, `"'`)
	title = strings.TrimSpace(title)
	if runes := []rune(title); len(runes) > 80 {
		title = string(runes[:80])
	}
	return title
}

func chatToResponse(c *entity.Chat) *dto.ChatResponse {
	return &dto.ChatResponse{
		Id:        c.Id,
		Title:     c.Title,
		Connected: c.Connected,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
