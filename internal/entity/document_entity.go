package entity

import (
	"time"

	"github.com/google/uuid"
)

type Document struct {
	Id        uuid.UUID
	Title     string
	Url       string
	Slug      string
	Content   string
	CreatedAt time.Time
	UpdatedAt *time.Time
	DeletedAt *time.Time
	IsDeleted bool
}

type DocumentChunk struct {
	Id                uuid.UUID
	DocumentId        uuid.UUID
	ChunkIndex        int
	Content           string
	ContextualContent string
	Embedding         []float32
	CreatedAt         time.Time
}
