package bootstrap

import (
	"context"
	"log"

	"ai-chat-gateway-be/internal/chat"
	"ai-chat-gateway-be/internal/config"
	"ai-chat-gateway-be/internal/controller"
	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/internal/pkg/serverutils"
	"ai-chat-gateway-be/internal/repository/unitofwork"
	"ai-chat-gateway-be/internal/service"
	"ai-chat-gateway-be/internal/websocket"
	"ai-chat-gateway-be/pkg/agent"
	"ai-chat-gateway-be/pkg/embedding"
	"ai-chat-gateway-be/pkg/embedding/jina"
	"ai-chat-gateway-be/pkg/llm/factory"
	"ai-chat-gateway-be/pkg/rerank"
	"ai-chat-gateway-be/pkg/retrieval"

	pktNats "ai-chat-gateway-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ChatController     controller.IChatController
	DocumentController controller.IDocumentController

	// Websocket surface
	WebSocketHandler *websocket.Handler
	RedisRelay       *websocket.RedisRelay

	// Chat core (exposed for main.go to start the sweeper)
	Sessions *chat.SessionManager

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService

	// AuthMiddleware guards the REST routes.
	AuthMiddleware fiber.Handler

	Logger logger.ILogger
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 3. AI Providers
	var embeddingProvider embedding.Provider
	switch cfg.Ai.EmbeddingProvider {
	case "ollama":
		embeddingProvider = embedding.NewOllamaProvider(
			cfg.Ai.OllamaBaseURL,
			cfg.Ai.OllamaModel,
		)
		log.Printf("[INFO] Using Embedding Provider: OLLAMA (%s)", cfg.Ai.OllamaModel)
	case "jina":
		embeddingProvider = jina.NewJinaProvider(cfg.Keys.Jina)
		log.Printf("[INFO] Using Embedding Provider: JINA AI")
	default:
		embeddingProvider = embedding.NewGeminiProvider(cfg.Keys.GoogleGemini)
		log.Printf("[INFO] Using Embedding Provider: GEMINI")
	}

	llmProvider, err := factory.NewLLMProvider(
		cfg.Ai.LLMProvider,
		cfg.Ai.LLMModel,
		cfg.Ai.LLMBaseURL,
		cfg.Keys.HuggingFace,
	)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	// 4. Infrastructure
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		natsPub = nil
	}
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
		natsSub = nil
	}

	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
		rdb = nil
	}

	// 5. Retrieval Engine
	searchService := service.NewSearchService(uowFactory)
	var reranker rerank.Reranker
	if cfg.Keys.Jina != "" {
		reranker = rerank.NewJinaReranker(cfg.Keys.Jina)
	}
	retrievalEngine := retrieval.NewEngine(
		embeddingProvider,
		searchService,
		searchService,
		reranker,
		retrieval.DefaultTimeouts(),
		sysLogger,
	)
	searchOpts := retrieval.DefaultOptions()
	searchOpts.TopK = cfg.Retrieval.TopK
	searchOpts.SemanticWeight = cfg.Retrieval.SemanticWeight
	searchOpts.BM25Weight = cfg.Retrieval.BM25Weight
	searchOpts.SkipRerank = cfg.Retrieval.SkipRerank

	// 6. Services
	publisherService := service.NewPublisherService(cfg.Keys.IngestTopic, pubSub)
	consumerService := service.NewConsumerService(
		pubSub,
		cfg.Keys.IngestTopic,
		uowFactory,
		embeddingProvider,
		llmProvider,
		sysLogger,
	)

	chatService := service.NewChatService(uowFactory, llmProvider, sysLogger)
	documentService := service.NewDocumentService(uowFactory, publisherService, retrievalEngine, searchOpts, sysLogger)
	auditSink := service.NewAuditService(natsPub, sysLogger)

	// Durable audit trail of task lifecycle events, written to its own log.
	auditTrail := service.NewAuditTrailService(natsSub, logger.NewIsolatedLogger("logs/task_audit.log"))
	if natsSub != nil {
		go auditTrail.Start()
	}

	// 7. Chat Core
	sessions := chat.NewSessionManager(sysLogger)
	agentEngine := agent.NewHTTPEngine(cfg.Agent.BaseURL)
	bridge := chat.NewBridge(agentEngine, chatService, sessions, sysLogger)
	tasks := chat.NewTaskManager(sessions, bridge, auditSink, sysLogger)

	// The websocket surface logs to its own file so frame-level noise stays
	// out of the main application log.
	wsLogger := logger.NewIsolatedLogger("logs/chat_ws.log")

	verifier := serverutils.NewJwtVerifier(cfg.App.JWTSecret)
	wsHandler := websocket.NewHandler(sessions, tasks, chatService, verifier, wsLogger)
	relay := websocket.NewRedisRelay(rdb, sessions, wsLogger)

	return &Container{
		ChatController:     controller.NewChatController(chatService),
		DocumentController: controller.NewDocumentController(documentService),
		WebSocketHandler:   wsHandler,
		RedisRelay:         relay,
		Sessions:           sessions,
		ConsumerService:    consumerService,
		AuthMiddleware:     serverutils.JwtMiddleware(verifier),
		Logger:             wsLogger,
	}
}
