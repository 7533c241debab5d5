package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/pkg/rerank"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return f.vec, f.err
}

type fakeVectorSearcher struct {
	hits []ChunkCandidate
	err  error
}

func (f *fakeVectorSearcher) SearchSimilar(ctx context.Context, vector []float32, limit int) ([]ChunkCandidate, error) {
	return f.hits, f.err
}

type fakeLexicalSearcher struct {
	hits []ChunkCandidate
	err  error
}

func (f *fakeLexicalSearcher) SearchLexical(ctx context.Context, query string, limit int) ([]ChunkCandidate, error) {
	return f.hits, f.err
}

type fakeReranker struct {
	ranked []rerank.Ranked
	err    error
	calls  int
	docs   []string
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]rerank.Ranked, error) {
	f.calls++
	f.docs = documents
	return f.ranked, f.err
}

func chunk(id string) ChunkCandidate {
	return ChunkCandidate{ID: id, DocumentID: "doc-" + id, Content: "content " + id}
}

func newTestEngine(embedder *fakeEmbedder, vec *fakeVectorSearcher, lex *fakeLexicalSearcher, rr rerank.Reranker) *Engine {
	return NewEngine(embedder, vec, lex, rr, DefaultTimeouts(), logger.NewNopLogger())
}

func TestRetrieveEmbedFailureReturnsEmpty(t *testing.T) {
	engine := newTestEngine(
		&fakeEmbedder{err: errors.New("embedding service down")},
		&fakeVectorSearcher{hits: []ChunkCandidate{chunk("a")}},
		&fakeLexicalSearcher{hits: []ChunkCandidate{chunk("b")}},
		nil,
	)

	results := engine.Retrieve(context.Background(), "query", Options{})
	assert.Empty(t, results)
	assert.NotNil(t, results)
}

func TestRetrieveOneChannelFailureKeepsOther(t *testing.T) {
	engine := newTestEngine(
		&fakeEmbedder{vec: []float32{0.1}},
		&fakeVectorSearcher{err: errors.New("index offline")},
		&fakeLexicalSearcher{hits: []ChunkCandidate{chunk("a"), chunk("b")}},
		nil,
	)

	results := engine.Retrieve(context.Background(), "query", Options{SkipRerank: true})
	require.Len(t, results, 2)
	assert.Equal(t, "content a", results[0].Content)
}

func TestRetrieveBothChannelsEmptyShortCircuits(t *testing.T) {
	rr := &fakeReranker{}
	engine := newTestEngine(
		&fakeEmbedder{vec: []float32{0.1}},
		&fakeVectorSearcher{},
		&fakeLexicalSearcher{},
		rr,
	)

	results := engine.Retrieve(context.Background(), "query", Options{})
	assert.Empty(t, results)
	assert.Equal(t, 0, rr.calls, "empty fusion must not reach the reranker")
}

func TestFusionBothChannelsBeatsSingleChannel(t *testing.T) {
	// "both" is rank 1 in both channels, "dense" rank 2 dense-only,
	// "lex" rank 2 lexical-only.
	engine := newTestEngine(
		&fakeEmbedder{vec: []float32{0.1}},
		&fakeVectorSearcher{hits: []ChunkCandidate{chunk("both"), chunk("dense")}},
		&fakeLexicalSearcher{hits: []ChunkCandidate{chunk("both"), chunk("lex")}},
		nil,
	)

	results := engine.Retrieve(context.Background(), "query", Options{SkipRerank: true})
	require.NotEmpty(t, results)
	assert.Equal(t, "content both", results[0].Content)

	// Dual-channel rank 1 scores 0.7/61 + 0.3/61 = 1.0/61.
	assert.InDelta(t, 1.0/61.0, results[0].Score, 1e-9)
}

func TestFusionScoreTerms(t *testing.T) {
	dense := []ChunkCandidate{chunk("a"), chunk("b")}
	lexical := []ChunkCandidate{chunk("b"), chunk("c")}

	fused := fuse(dense, lexical, 0.7, 0.3)
	require.Len(t, fused, 3)

	scores := map[string]float64{}
	for _, f := range fused {
		scores[f.ID] = f.score
	}
	assert.InDelta(t, 0.7/61.0, scores["a"], 1e-9)
	assert.InDelta(t, 0.7/62.0+0.3/61.0, scores["b"], 1e-9)
	assert.InDelta(t, 0.3/62.0, scores["c"], 1e-9)

	// Sorted descending by fused score.
	assert.Equal(t, "b", fused[0].ID)
}

func TestRetrieveSkipRerankCapsAtTopK(t *testing.T) {
	var hits []ChunkCandidate
	for i := 0; i < 12; i++ {
		hits = append(hits, chunk(fmt.Sprintf("c%02d", i)))
	}
	rr := &fakeReranker{}
	engine := newTestEngine(
		&fakeEmbedder{vec: []float32{0.1}},
		&fakeVectorSearcher{hits: hits},
		&fakeLexicalSearcher{},
		rr,
	)

	results := engine.Retrieve(context.Background(), "query", Options{TopK: 3, SkipRerank: true})
	assert.Len(t, results, 3)
	assert.Equal(t, 0, rr.calls)
}

func TestRetrieveRerankMapsIndexesAndScores(t *testing.T) {
	rr := &fakeReranker{ranked: []rerank.Ranked{
		{Index: 1, Score: 0.95},
		{Index: 0, Score: 0.42},
		{Index: 99, Score: 0.9}, // out of range, dropped
	}}
	engine := newTestEngine(
		&fakeEmbedder{vec: []float32{0.1}},
		&fakeVectorSearcher{hits: []ChunkCandidate{
			{ID: "a", Content: "alpha", ContextualContent: "summary a"},
			{ID: "b", Content: "beta"},
		}},
		&fakeLexicalSearcher{},
		rr,
	)

	results := engine.Retrieve(context.Background(), "query", Options{TopK: 5})
	require.Len(t, results, 2)
	assert.Equal(t, "beta", results[0].Content)
	assert.Equal(t, 0.95, results[0].Score)
	assert.Equal(t, "alpha", results[1].Content)
	assert.Equal(t, 0.42, results[1].Score)

	// The reranker sees content concatenated with contextual content.
	require.Len(t, rr.docs, 2)
	assert.Equal(t, "alpha\n\nsummary a", rr.docs[0])
	assert.Equal(t, "beta", rr.docs[1])
}

func TestRetrieveRerankFailureFallsBackToFusedOrder(t *testing.T) {
	rr := &fakeReranker{err: errors.New("rerank quota exceeded")}
	engine := newTestEngine(
		&fakeEmbedder{vec: []float32{0.1}},
		&fakeVectorSearcher{hits: []ChunkCandidate{chunk("a"), chunk("b")}},
		&fakeLexicalSearcher{},
		rr,
	)

	results := engine.Retrieve(context.Background(), "query", Options{TopK: 1})
	require.Len(t, results, 1)
	assert.Equal(t, "content a", results[0].Content)
}

func TestOptionsWithDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, 5, opts.TopK)
	assert.Equal(t, 0.7, opts.SemanticWeight)
	assert.Equal(t, 0.3, opts.BM25Weight)
	assert.Equal(t, 10, opts.CandidateMultiplier)

	custom := Options{TopK: 8, SemanticWeight: 0.5, BM25Weight: 0.5, CandidateMultiplier: 4}.withDefaults()
	assert.Equal(t, 8, custom.TopK)
	assert.Equal(t, 0.5, custom.SemanticWeight)
}
