package service

import (
	"context"
	"strings"

	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/pkg/events"
	pktNats "ai-chat-gateway-be/pkg/nats"
)

// AuditTrailService drains the task lifecycle stream into a durable audit
// log. Running it on the durable consumer means the trail survives restarts
// and catches up on events published while the gateway was down.
type AuditTrailService struct {
	subscriber *pktNats.Subscriber
	logger     logger.ILogger
}

func NewAuditTrailService(sub *pktNats.Subscriber, log logger.ILogger) *AuditTrailService {
	return &AuditTrailService{
		subscriber: sub,
		logger:     log,
	}
}

// Start begins listening to the event bus.
func (s *AuditTrailService) Start() {
	err := s.subscriber.Subscribe("events.>", "task-audit-worker", s.handleEvent)
	if err != nil {
		s.logger.Error("AuditTrail", "Failed to start audit subscriber", map[string]interface{}{"error": err})
		return
	}
	s.logger.Info("AuditTrail", "Audit trail started, listening to events.>", nil)
}

func (s *AuditTrailService) handleEvent(ctx context.Context, event events.Event) error {
	// The NATS subject carries the stream prefix; the trail records the bare
	// lifecycle code.
	code := strings.TrimPrefix(event.EventType(), "events.")
	s.logger.Info("AuditTrail", code, event.Payload())
	return nil
}
