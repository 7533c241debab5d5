package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Agent     AgentConfig
	Ai        AIConfig
	Retrieval RetrievalConfig
	Chat      ChatConfig
	Keys      APIKeys
}

type AppConfig struct {
	Port               string
	BaseURL            string
	ClientURL          string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	JWTSecret          string
}

type DatabaseConfig struct {
	Connection string
}

// AgentConfig points at the agent runner the gateway brokers for.
type AgentConfig struct {
	BaseURL      string
	DefaultModel string
}

type AIConfig struct {
	EmbeddingProvider string // "ollama", "gemini" or "jina"
	OllamaBaseURL     string
	OllamaModel       string
	LLMProvider       string // "ollama" or "huggingface"
	LLMModel          string
	LLMBaseURL        string
}

type RetrievalConfig struct {
	TopK           int
	SemanticWeight float64
	BM25Weight     float64
	SkipRerank     bool
}

type ChatConfig struct {
	// SessionSweepIntervalSec drives the idle-session sweeper.
	SessionSweepIntervalSec int
	// SessionIdleTimeoutSec evicts sessions idle longer than this.
	SessionIdleTimeoutSec int
}

type APIKeys struct {
	GoogleGemini string
	Jina         string
	HuggingFace  string
	IngestTopic  string // Document embedding topic
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:3000"),
			ClientURL:          getEnv("CLIENT_URL", "http://localhost:5173"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log.csv"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			JWTSecret:          getEnv("JWT_SECRET", ""),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Agent: AgentConfig{
			BaseURL:      getEnv("AGENT_BASE_URL", "http://localhost:8700"),
			DefaultModel: getEnv("AGENT_DEFAULT_MODEL", ""),
		},
		Ai: AIConfig{
			EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "ollama"),
			OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OllamaModel:       getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			LLMProvider:       getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:          getEnv("LLM_MODEL", "llama3"),
			LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
		},
		Retrieval: RetrievalConfig{
			TopK:           getEnvAsInt("RETRIEVAL_TOP_K", 5),
			SemanticWeight: getEnvAsFloat("RETRIEVAL_SEMANTIC_WEIGHT", 0.7),
			BM25Weight:     getEnvAsFloat("RETRIEVAL_BM25_WEIGHT", 0.3),
			SkipRerank:     getEnvAsBool("RETRIEVAL_SKIP_RERANK", false),
		},
		Chat: ChatConfig{
			SessionSweepIntervalSec: getEnvAsInt("SESSION_SWEEP_INTERVAL_SEC", 60),
			SessionIdleTimeoutSec:   getEnvAsInt("SESSION_IDLE_TIMEOUT_SEC", 1800),
		},
		Keys: APIKeys{
			GoogleGemini: getEnv("GOOGLE_GEMINI_API_KEY", ""),
			Jina:         getEnv("JINA_API_KEY", ""),
			HuggingFace:  getEnv("HUGGINGFACE_API_KEY", ""),
			IngestTopic:  getEnv("INGEST_DOCUMENT_TOPIC_NAME", "INGEST_DOCUMENT"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}
