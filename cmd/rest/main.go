package main

import (
	"context"
	"log"
	"time"

	"ai-chat-gateway-be/internal/bootstrap"
	"ai-chat-gateway-be/internal/config"
	"ai-chat-gateway-be/internal/server"
	"ai-chat-gateway-be/internal/tracer"
	"ai-chat-gateway-be/pkg/database"
)

func main() {
	// 0. Initialize Tracer
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Initialize Database
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	// 3. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(gormDB, cfg)

	// 4. Start Background Services
	ctx := context.Background()

	go func() {
		log.Println("Background: Starting Consumer Service...")
		if err := container.ConsumerService.Consume(ctx); err != nil {
			log.Printf("Background Consumer Error: %v", err)
		}
	}()

	container.RedisRelay.Start(ctx)
	container.Sessions.StartSweeper(ctx,
		time.Duration(cfg.Chat.SessionSweepIntervalSec)*time.Second,
		time.Duration(cfg.Chat.SessionIdleTimeoutSec)*time.Second,
	)

	// 5. Initialize Server
	srv := server.New(cfg, container)

	// 6. Run Server
	log.Fatal(srv.Run())
}
