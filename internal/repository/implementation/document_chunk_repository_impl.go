package implementation

import (
	"context"

	"ai-chat-gateway-be/internal/entity"
	"ai-chat-gateway-be/internal/mapper"
	"ai-chat-gateway-be/internal/model"
	"ai-chat-gateway-be/internal/repository/contract"
	"ai-chat-gateway-be/internal/repository/specification"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

type DocumentChunkRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.DocumentMapper
}

func NewDocumentChunkRepository(db *gorm.DB) contract.DocumentChunkRepository {
	return &DocumentChunkRepositoryImpl{
		db:     db,
		mapper: mapper.NewDocumentMapper(),
	}
}

func (r *DocumentChunkRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *DocumentChunkRepositoryImpl) CreateBulk(ctx context.Context, chunks []*entity.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	models := r.mapper.ChunksToModels(chunks)
	if err := r.db.WithContext(ctx).Create(models).Error; err != nil {
		return err
	}
	for i, m := range models {
		*chunks[i] = *r.mapper.ChunkToEntity(m)
	}
	return nil
}

func (r *DocumentChunkRepositoryImpl) DeleteByDocumentId(ctx context.Context, documentId uuid.UUID) error {
	return r.db.WithContext(ctx).Where("document_id = ?", documentId).Delete(&model.DocumentChunk{}).Error
}

func (r *DocumentChunkRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DocumentChunk, error) {
	var models []*model.DocumentChunk
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ChunksToEntities(models), nil
}

func (r *DocumentChunkRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.DocumentChunk{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// scoredChunkRow carries one search hit with its score and the joined document
// metadata. Field names map to the aliased columns in the raw selects below.
type scoredChunkRow struct {
	model.DocumentChunk
	DocTitle string
	DocUrl   string
	DocSlug  string
	Score    float64
}

func (r *DocumentChunkRepositoryImpl) toScored(rows []scoredChunkRow) []*contract.ScoredDocumentChunk {
	scored := make([]*contract.ScoredDocumentChunk, len(rows))
	for i := range rows {
		scored[i] = &contract.ScoredDocumentChunk{
			Chunk:         r.mapper.ChunkToEntity(&rows[i].DocumentChunk),
			DocumentTitle: rows[i].DocTitle,
			DocumentUrl:   rows[i].DocUrl,
			DocumentSlug:  rows[i].DocSlug,
			Score:         rows[i].Score,
		}
	}
	return scored
}

// SearchSimilar orders by pgvector cosine distance, closest first.
func (r *DocumentChunkRepositoryImpl) SearchSimilar(ctx context.Context, embedding []float32, limit int) ([]*contract.ScoredDocumentChunk, error) {
	if limit <= 0 {
		limit = 5
	}

	queryVector := pgvector.NewVector(embedding)

	var rows []scoredChunkRow
	err := r.db.WithContext(ctx).
		Table("document_chunks").
		Select("document_chunks.*, documents.title as doc_title, documents.url as doc_url, documents.slug as doc_slug, embedding <=> ? as score", queryVector).
		Joins("JOIN documents ON documents.id = document_chunks.document_id").
		Where("documents.deleted_at IS NULL").
		Order("score ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	return r.toScored(rows), nil
}

// SearchLexical runs Postgres full-text search over the chunk text plus its
// contextual summary, ranked by ts_rank.
func (r *DocumentChunkRepositoryImpl) SearchLexical(ctx context.Context, query string, limit int) ([]*contract.ScoredDocumentChunk, error) {
	if limit <= 0 {
		limit = 5
	}

	const tsVector = "to_tsvector('english', document_chunks.content || ' ' || document_chunks.contextual_content)"

	var rows []scoredChunkRow
	err := r.db.WithContext(ctx).
		Table("document_chunks").
		Select("document_chunks.*, documents.title as doc_title, documents.url as doc_url, documents.slug as doc_slug, ts_rank("+tsVector+", websearch_to_tsquery('english', ?)) as score", query).
		Joins("JOIN documents ON documents.id = document_chunks.document_id").
		Where("documents.deleted_at IS NULL").
		Where(tsVector+" @@ websearch_to_tsquery('english', ?)", query).
		Order("score DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	return r.toScored(rows), nil
}
