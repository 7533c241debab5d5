package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// DocumentChunk is one embedded slice of a document. ContextualContent is the
// LLM-written situating summary stored next to the raw chunk text; the
// embedding is computed over both.
type DocumentChunk struct {
	Id                uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DocumentId        uuid.UUID       `gorm:"type:uuid;not null;index"`
	ChunkIndex        int             `gorm:"not null"`
	Content           string          `gorm:"type:text;not null"`
	ContextualContent string          `gorm:"type:text;not null;default:''"`
	Embedding         pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt         time.Time       `gorm:"autoCreateTime"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}
