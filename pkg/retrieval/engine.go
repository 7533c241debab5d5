// Package retrieval implements hybrid dense + lexical candidate search with
// Reciprocal Rank Fusion and optional cross-encoder reranking.
package retrieval

import (
	"context"
	"sort"
	"sync"
	"time"

	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/pkg/embedding"
	"ai-chat-gateway-be/pkg/rerank"
)

// rrfK is the standard Reciprocal Rank Fusion constant.
const rrfK = 60

// rerankCandidateLimit caps how many fused candidates are sent to the
// cross-encoder.
const rerankCandidateLimit = 20

// Options tunes one retrieval call.
type Options struct {
	TopK                int
	SemanticWeight      float64
	BM25Weight          float64
	CandidateMultiplier int
	SkipRerank          bool
}

// DefaultOptions returns the standard retrieval configuration.
func DefaultOptions() Options {
	return Options{
		TopK:                5,
		SemanticWeight:      0.7,
		BM25Weight:          0.3,
		CandidateMultiplier: 10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	if o.SemanticWeight == 0 && o.BM25Weight == 0 {
		o.SemanticWeight = d.SemanticWeight
		o.BM25Weight = d.BM25Weight
	}
	if o.CandidateMultiplier <= 0 {
		o.CandidateMultiplier = d.CandidateMultiplier
	}
	return o
}

// Timeouts bound each external call independently.
type Timeouts struct {
	Embed  time.Duration
	Search time.Duration
	Rerank time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Embed:  10 * time.Second,
		Search: 5 * time.Second,
		Rerank: 15 * time.Second,
	}
}

// Engine runs hybrid retrieval. It holds no per-query state; every Retrieve
// call is independent and safe to run concurrently.
type Engine struct {
	embedder embedding.Provider
	vector   VectorSearcher
	lexical  LexicalSearcher
	reranker rerank.Reranker // nil disables reranking
	timeouts Timeouts
	logger   logger.ILogger
}

func NewEngine(
	embedder embedding.Provider,
	vector VectorSearcher,
	lexical LexicalSearcher,
	reranker rerank.Reranker,
	timeouts Timeouts,
	log logger.ILogger,
) *Engine {
	return &Engine{
		embedder: embedder,
		vector:   vector,
		lexical:  lexical,
		reranker: reranker,
		timeouts: timeouts,
		logger:   log,
	}
}

// Retrieve returns ranked context passages for query. It never fails: every
// external error degrades to fewer (possibly zero) results.
func (e *Engine) Retrieve(ctx context.Context, query string, opts Options) []RAGResult {
	opts = opts.withDefaults()

	embedCtx, cancelEmbed := context.WithTimeout(ctx, e.timeouts.Embed)
	vec, err := e.embedder.Embed(embedCtx, query, embedding.TaskQuery)
	cancelEmbed()
	if err != nil {
		// Without a query vector the whole call degrades to "no context".
		e.logger.Error("Retrieval", "Embedding generation failed", map[string]interface{}{
			"error": err.Error(),
		})
		return []RAGResult{}
	}

	candidateLimit := opts.TopK * opts.CandidateMultiplier

	var denseHits, lexicalHits []ChunkCandidate
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		searchCtx, cancel := context.WithTimeout(ctx, e.timeouts.Search)
		defer cancel()
		hits, err := e.vector.SearchSimilar(searchCtx, vec, candidateLimit)
		if err != nil {
			// One channel's failure must not sink the other.
			e.logger.Warn("Retrieval", "Vector search failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		denseHits = hits
	}()

	go func() {
		defer wg.Done()
		searchCtx, cancel := context.WithTimeout(ctx, e.timeouts.Search)
		defer cancel()
		hits, err := e.lexical.SearchLexical(searchCtx, query, candidateLimit)
		if err != nil {
			e.logger.Warn("Retrieval", "Lexical search failed", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
		lexicalHits = hits
	}()

	wg.Wait()

	fused := fuse(denseHits, lexicalHits, opts.SemanticWeight, opts.BM25Weight)
	if len(fused) == 0 {
		return []RAGResult{}
	}

	if opts.SkipRerank || e.reranker == nil {
		return toResults(topN(fused, opts.TopK))
	}
	return e.rerankFused(ctx, query, fused, opts.TopK)
}

// fusedCandidate pairs a candidate with its accumulated RRF score.
type fusedCandidate struct {
	ChunkCandidate
	score float64
}

// fuse combines both channels with Reciprocal Rank Fusion. A chunk found by
// both channels accumulates both contributions, keyed by its stable id.
func fuse(dense, lexical []ChunkCandidate, semanticWeight, bm25Weight float64) []fusedCandidate {
	byID := make(map[string]*fusedCandidate)
	var order []string

	accumulate := func(hits []ChunkCandidate, weight float64) {
		for i, hit := range hits {
			rank := i + 1
			fc, ok := byID[hit.ID]
			if !ok {
				fc = &fusedCandidate{ChunkCandidate: hit}
				byID[hit.ID] = fc
				order = append(order, hit.ID)
			}
			fc.score += weight / float64(rank+rrfK)
		}
	}

	accumulate(dense, semanticWeight)
	accumulate(lexical, bm25Weight)

	fused := make([]fusedCandidate, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].score > fused[j].score
	})
	return fused
}

func topN(fused []fusedCandidate, n int) []fusedCandidate {
	if len(fused) > n {
		fused = fused[:n]
	}
	return fused
}

// rerankFused sends the top fused candidates through the cross-encoder and
// maps scored indexes back. A rerank failure falls back to the fused order.
func (e *Engine) rerankFused(ctx context.Context, query string, fused []fusedCandidate, topK int) []RAGResult {
	batch := topN(fused, rerankCandidateLimit)

	documents := make([]string, len(batch))
	for i, c := range batch {
		doc := c.Content
		if c.ContextualContent != "" {
			doc = c.Content + "\n\n" + c.ContextualContent
		}
		documents[i] = doc
	}

	rerankCtx, cancel := context.WithTimeout(ctx, e.timeouts.Rerank)
	defer cancel()

	ranked, err := e.reranker.Rerank(rerankCtx, query, documents, topK)
	if err != nil {
		e.logger.Warn("Retrieval", "Rerank failed, falling back to fused order", map[string]interface{}{
			"error": err.Error(),
		})
		return toResults(topN(fused, topK))
	}

	results := make([]RAGResult, 0, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(batch) {
			// Defensive: an out-of-range index from the reranker is dropped.
			continue
		}
		res := toResult(batch[r.Index])
		res.Score = r.Score
		results = append(results, res)
	}
	return results
}

func toResults(fused []fusedCandidate) []RAGResult {
	results := make([]RAGResult, 0, len(fused))
	for _, c := range fused {
		res := toResult(c)
		res.Score = c.score
		results = append(results, res)
	}
	return results
}

func toResult(c fusedCandidate) RAGResult {
	return RAGResult{
		Content:           c.Content,
		ContextualContent: c.ContextualContent,
		DocumentTitle:     c.DocumentTitle,
		DocumentURL:       c.DocumentURL,
		DocumentSlug:      c.DocumentSlug,
		ChunkIndex:        c.ChunkIndex,
	}
}
