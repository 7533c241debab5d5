package service

import (
	"context"

	"ai-chat-gateway-be/internal/repository/contract"
	"ai-chat-gateway-be/internal/repository/unitofwork"
	"ai-chat-gateway-be/pkg/retrieval"
)

// searchService adapts the chunk repository to the retrieval engine's
// searcher contracts.
type searchService struct {
	uowFactory unitofwork.RepositoryFactory
}

func NewSearchService(uowFactory unitofwork.RepositoryFactory) *searchService {
	return &searchService{uowFactory: uowFactory}
}

var (
	_ retrieval.VectorSearcher  = (*searchService)(nil)
	_ retrieval.LexicalSearcher = (*searchService)(nil)
)

func (s *searchService) SearchSimilar(ctx context.Context, vector []float32, limit int) ([]retrieval.ChunkCandidate, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	scored, err := uow.DocumentChunkRepository().SearchSimilar(ctx, vector, limit)
	if err != nil {
		return nil, err
	}

	out := make([]retrieval.ChunkCandidate, len(scored))
	for i, sc := range scored {
		out[i] = toCandidate(sc)
		out[i].Distance = sc.Score
	}
	return out, nil
}

func (s *searchService) SearchLexical(ctx context.Context, query string, limit int) ([]retrieval.ChunkCandidate, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	scored, err := uow.DocumentChunkRepository().SearchLexical(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	out := make([]retrieval.ChunkCandidate, len(scored))
	for i, sc := range scored {
		out[i] = toCandidate(sc)
		out[i].Rank = i + 1
	}
	return out, nil
}

func toCandidate(sc *contract.ScoredDocumentChunk) retrieval.ChunkCandidate {
	return retrieval.ChunkCandidate{
		ID:                sc.Chunk.Id.String(),
		DocumentID:        sc.Chunk.DocumentId.String(),
		Content:           sc.Chunk.Content,
		ContextualContent: sc.Chunk.ContextualContent,
		ChunkIndex:        sc.Chunk.ChunkIndex,
		DocumentTitle:     sc.DocumentTitle,
		DocumentURL:       sc.DocumentUrl,
		DocumentSlug:      sc.DocumentSlug,
	}
}
