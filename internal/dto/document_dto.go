package dto

import (
	"time"

	"github.com/google/uuid"
)

type IngestDocumentRequest struct {
	Title   string `json:"title" validate:"required"`
	Url     string `json:"url"`
	Slug    string `json:"slug" validate:"required"`
	Content string `json:"content" validate:"required"`
}

type IngestDocumentResponse struct {
	Id uuid.UUID `json:"id"`
}

type DocumentResponse struct {
	Id        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Url       string    `json:"url"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

type SearchRequest struct {
	Query string `json:"query" validate:"required"`
	TopK  int    `json:"top_k"`
}

// PublishIngestDocumentMessage is the payload queued for the embedding worker.
type PublishIngestDocumentMessage struct {
	DocumentId uuid.UUID `json:"document_id"`
}
