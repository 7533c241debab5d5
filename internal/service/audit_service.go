package service

import (
	"context"
	"time"

	"ai-chat-gateway-be/internal/chat"
	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/pkg/events"
	pktNats "ai-chat-gateway-be/pkg/nats"
)

const publishTimeout = 3 * time.Second

// auditService mirrors task lifecycle transitions onto the NATS audit bus.
// It implements chat.TaskLifecycleSink; a nil publisher turns it into a no-op
// so local setups run without NATS.
type auditService struct {
	publisher *pktNats.Publisher
	logger    logger.ILogger
}

func NewAuditService(publisher *pktNats.Publisher, log logger.ILogger) chat.TaskLifecycleSink {
	return &auditService{
		publisher: publisher,
		logger:    log,
	}
}

func (s *auditService) TaskQueued(task *chat.QueuedTask, position int) {
	s.emit("TASK_QUEUED", map[string]interface{}{
		"task_id":  task.TaskID,
		"chat_id":  task.ChatID,
		"position": position,
	})
}

func (s *auditService) TaskStarted(task *chat.QueuedTask) {
	s.emit("TASK_STARTED", map[string]interface{}{
		"task_id": task.TaskID,
		"chat_id": task.ChatID,
	})
}

func (s *auditService) TaskFinished(task *chat.QueuedTask, outcome string) {
	s.emit("TASK_FINISHED", map[string]interface{}{
		"task_id": task.TaskID,
		"chat_id": task.ChatID,
		"outcome": outcome,
	})
}

// emit publishes asynchronously; the task loop must never block on the bus.
func (s *auditService) emit(eventType string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	event := events.BaseEvent{
		Type:       eventType,
		Data:       data,
		OccurredAt: time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("Audit", "Failed to publish lifecycle event", map[string]interface{}{
				"event": eventType, "error": err.Error(),
			})
		}
	}()
}
