// Package rerank scores candidate passages against a query with an external
// cross-encoder.
package rerank

import "context"

// Ranked is one reranked document. Index refers to the position in the input
// document slice.
type Ranked struct {
	Index int
	Score float64
}

type Reranker interface {
	// Rerank scores documents against query and returns at most topN results,
	// best first.
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Ranked, error)
}
