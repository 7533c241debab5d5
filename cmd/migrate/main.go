package main

import (
	"log"
	"os"

	"ai-chat-gateway-be/internal/model"
	"ai-chat-gateway-be/pkg/database"

	"github.com/joho/godotenv"
)

func main() {
	// 1. Load Environment Variables
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}

	// 2. Connect to Database using existing GORM helpers
	db, err := database.NewGormDBFromDSN(dsn)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	log.Println("Starting Authoritative GORM Migration...")

	// 3. Pre-Migration: Extensions (Things GORM AutoMigrate doesn't do)
	log.Println("Step 1: Setting up Extensions...")

	setupSQL := []string{
		`CREATE EXTENSION IF NOT EXISTS pgcrypto;`,
		`CREATE EXTENSION IF NOT EXISTS vector;`,
	}

	for _, sql := range setupSQL {
		if err := db.Exec(sql).Error; err != nil {
			log.Fatalf("Error: Failed to run setup SQL (%s): %v", sql, err)
		}
	}

	// 4. AutoMigrate Models
	log.Println("Step 2: Migrating Tables...")

	if err := db.AutoMigrate(
		&model.Chat{},
		&model.ChatMessage{},
		&model.Document{},
		&model.DocumentChunk{},
	); err != nil {
		log.Fatal("Error: AutoMigrate failed:", err)
	}

	// 5. Post-Migration: Indexes GORM cannot express
	log.Println("Step 3: Creating Search Indexes...")

	indexSQL := []string{
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding
		   ON document_chunks USING hnsw (embedding vector_cosine_ops);`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_fts
		   ON document_chunks USING gin (to_tsvector('english', content || ' ' || contextual_content));`,
	}

	for _, sql := range indexSQL {
		if err := db.Exec(sql).Error; err != nil {
			log.Fatalf("Error: Failed to create index: %v", err)
		}
	}

	log.Println("✅ Migration completed successfully")
}
