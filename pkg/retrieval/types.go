package retrieval

import "context"

// ChunkCandidate is one search hit from either channel, keyed by chunk id.
// Consumed only within one retrieval call.
type ChunkCandidate struct {
	ID                string
	DocumentID        string
	Content           string
	ContextualContent string
	ChunkIndex        int
	DocumentTitle     string
	DocumentURL       string
	DocumentSlug      string

	// Distance is the vector channel's signal, Rank the lexical channel's.
	// Only the channel that produced the candidate sets its field.
	Distance float64
	Rank     int
}

// RAGResult is one context passage handed to the agent. Produced fresh per
// query, never persisted.
type RAGResult struct {
	Content           string  `json:"content"`
	ContextualContent string  `json:"contextualContent"`
	DocumentTitle     string  `json:"documentTitle"`
	DocumentURL       string  `json:"documentUrl"`
	DocumentSlug      string  `json:"documentSlug"`
	ChunkIndex        int     `json:"chunkIndex"`
	Score             float64 `json:"score"`
}

// VectorSearcher performs dense nearest-neighbor search over chunk embeddings.
type VectorSearcher interface {
	SearchSimilar(ctx context.Context, vector []float32, limit int) ([]ChunkCandidate, error)
}

// LexicalSearcher performs BM25-style relevance search over chunk text.
type LexicalSearcher interface {
	SearchLexical(ctx context.Context, query string, limit int) ([]ChunkCandidate, error)
}
