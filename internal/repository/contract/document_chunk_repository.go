package contract

import (
	"context"

	"ai-chat-gateway-be/internal/entity"
	"ai-chat-gateway-be/internal/repository/specification"

	"github.com/google/uuid"
)

// ScoredDocumentChunk wraps a chunk with its retrieval score and the parent
// document's display metadata, so callers need no second lookup.
type ScoredDocumentChunk struct {
	Chunk         *entity.DocumentChunk
	DocumentTitle string
	DocumentUrl   string
	DocumentSlug  string
	// Score is cosine distance for vector search (lower is closer) and
	// ts_rank for lexical search (higher is better).
	Score float64
}

type DocumentChunkRepository interface {
	CreateBulk(ctx context.Context, chunks []*entity.DocumentChunk) error
	DeleteByDocumentId(ctx context.Context, documentId uuid.UUID) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DocumentChunk, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	// Advanced
	SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]*ScoredDocumentChunk, error)
	SearchLexical(ctx context.Context, query string, limit int) ([]*ScoredDocumentChunk, error)
}
