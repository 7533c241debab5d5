package service

import (
	"testing"

	"ai-chat-gateway-be/internal/entity"
	"ai-chat-gateway-be/internal/repository/contract"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestToCandidateCarriesDocumentMetadata(t *testing.T) {
	chunkId := uuid.New()
	docId := uuid.New()

	got := toCandidate(&contract.ScoredDocumentChunk{
		Chunk: &entity.DocumentChunk{
			Id:                chunkId,
			DocumentId:        docId,
			ChunkIndex:        3,
			Content:           "body",
			ContextualContent: "situates the body",
		},
		DocumentTitle: "Runbook",
		DocumentUrl:   "https://docs.example.com/runbook",
		DocumentSlug:  "runbook",
		Score:         0.42,
	})

	assert.Equal(t, chunkId.String(), got.ID)
	assert.Equal(t, docId.String(), got.DocumentID)
	assert.Equal(t, 3, got.ChunkIndex)
	assert.Equal(t, "body", got.Content)
	assert.Equal(t, "situates the body", got.ContextualContent)
	assert.Equal(t, "Runbook", got.DocumentTitle)
	assert.Equal(t, "https://docs.example.com/runbook", got.DocumentURL)
	assert.Equal(t, "runbook", got.DocumentSlug)

	// Score placement differs per channel; the adapter methods assign it.
	assert.Zero(t, got.Distance)
	assert.Zero(t, got.Rank)
}
