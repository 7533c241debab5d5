package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ai-chat-gateway-be/internal/dto"
	"ai-chat-gateway-be/internal/entity"
	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/internal/repository/specification"
	"ai-chat-gateway-be/internal/repository/unitofwork"
	"ai-chat-gateway-be/pkg/embedding"
	"ai-chat-gateway-be/pkg/llm"
	"ai-chat-gateway-be/pkg/utils"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

const (
	// ChunkSize 1500 chars (approx 375 tokens), overlap 200 chars.
	chunkSize    = 1500
	chunkOverlap = 200

	// Documents larger than this are truncated in the contextualizer prompt.
	contextualDocLimit = 8000
)

const contextualPrompt = `Here is a document titled "%s":
<document>
%s
</document>

Give a short context (one or two sentences) situating the following chunk within the document, to improve search retrieval of the chunk. Reply with the context only.

<chunk>
%s
</chunk>`

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService drains the ingest topic: it chunks each document, writes a
// contextual summary per chunk, embeds, and replaces the stored chunks.
type consumerService struct {
	pubSub         *gochannel.GoChannel
	topicName      string
	uowFactory     unitofwork.RepositoryFactory
	embedder       embedding.Provider
	contextualizer llm.LLMProvider // nil disables contextual summaries
	logger         logger.ILogger
}

func NewConsumerService(
	pubSub *gochannel.GoChannel,
	topicName string,
	uowFactory unitofwork.RepositoryFactory,
	embedder embedding.Provider,
	contextualizer llm.LLMProvider,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		pubSub:         pubSub,
		topicName:      topicName,
		uowFactory:     uowFactory,
		embedder:       embedder,
		contextualizer: contextualizer,
		logger:         log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var payload dto.PublishIngestDocumentMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Error("Consumer", "Failed to unmarshal message", map[string]interface{}{"error": err.Error()})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	uow := cs.uowFactory.NewUnitOfWork(ctx)

	doc, err := uow.DocumentRepository().FindOne(ctx, specification.ByID{ID: payload.DocumentId})
	if err != nil {
		cs.logger.Error("Consumer", "Failed to load document", map[string]interface{}{
			"document_id": payload.DocumentId.String(), "error": err.Error(),
		})
		msg.Nack() // Retriable
		return
	}
	if doc == nil {
		// Deleted between publish and consume.
		msg.Ack()
		return
	}

	chunks := utils.SplitText(doc.Content, chunkSize, chunkOverlap)
	cs.logger.Info("Consumer", "Document split into chunks", map[string]interface{}{
		"document_id": doc.Id.String(), "chunks": len(chunks),
	})

	newChunks := make([]*entity.DocumentChunk, 0, len(chunks))
	for i, chunk := range chunks {
		contextual := cs.contextualize(ctx, doc, chunk)

		embedText := chunk
		if contextual != "" {
			embedText = chunk + "\n\n" + contextual
		}
		vector, err := cs.embedder.Embed(ctx, embedText, embedding.TaskDocument)
		if err != nil {
			cs.logger.Error("Consumer", "Failed to embed chunk", map[string]interface{}{
				"document_id": doc.Id.String(), "chunk_index": i, "error": err.Error(),
			})
			msg.Nack()
			return
		}

		newChunks = append(newChunks, &entity.DocumentChunk{
			Id:                uuid.New(),
			DocumentId:        doc.Id,
			ChunkIndex:        i,
			Content:           chunk,
			ContextualContent: contextual,
			Embedding:         vector,
			CreatedAt:         time.Now(),
		})
	}

	if err := uow.Begin(ctx); err != nil {
		cs.logger.Error("Consumer", "Failed to begin transaction", map[string]interface{}{"error": err.Error()})
		msg.Nack()
		return
	}
	defer uow.Rollback()

	if err := uow.DocumentChunkRepository().DeleteByDocumentId(ctx, doc.Id); err != nil {
		cs.logger.Error("Consumer", "Failed to delete old chunks", map[string]interface{}{"error": err.Error()})
		msg.Nack()
		return
	}

	if err := uow.DocumentChunkRepository().CreateBulk(ctx, newChunks); err != nil {
		cs.logger.Error("Consumer", "Failed to create chunks", map[string]interface{}{"error": err.Error()})
		msg.Nack()
		return
	}

	if err := uow.Commit(); err != nil {
		cs.logger.Error("Consumer", "Failed to commit transaction", map[string]interface{}{"error": err.Error()})
		msg.Nack()
		return
	}

	cs.logger.Info("Consumer", "Document processed", map[string]interface{}{
		"document_id": doc.Id.String(), "chunks": len(newChunks),
	})
	msg.Ack()
}

// contextualize asks the LLM to situate a chunk within its document. Failures
// degrade to an empty summary; the chunk still gets embedded on its own.
func (cs *consumerService) contextualize(ctx context.Context, doc *entity.Document, chunk string) string {
	if cs.contextualizer == nil {
		return ""
	}

	content := doc.Content
	if runes := []rune(content); len(runes) > contextualDocLimit {
		content = string(runes[:contextualDocLimit])
	}

	out, err := cs.contextualizer.Generate(ctx,
		fmt.Sprintf(contextualPrompt, doc.Title, content, chunk),
		llm.WithTemperature(0.2),
		llm.WithMaxTokens(120),
	)
	if err != nil {
		cs.logger.Warn("Consumer", "Contextual summary failed, embedding chunk alone", map[string]interface{}{
			"document_id": doc.Id.String(), "error": err.Error(),
		})
		return ""
	}
	return out
}
