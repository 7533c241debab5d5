package embedding

import "context"

// Task types hint the provider how the vector will be used. Providers that
// have no notion of task type ignore them.
const (
	TaskQuery    = "RETRIEVAL_QUERY"
	TaskDocument = "RETRIEVAL_DOCUMENT"
)

// Provider generates dense vectors for text.
type Provider interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
}
