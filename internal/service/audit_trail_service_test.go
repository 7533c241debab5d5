package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"ai-chat-gateway-be/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLogger struct {
	mu      sync.Mutex
	entries []string
	details []map[string]interface{}
}

func (l *captureLogger) record(message string, d map[string]interface{}) {
	l.mu.Lock()
	l.entries = append(l.entries, message)
	l.details = append(l.details, d)
	l.mu.Unlock()
}

func (l *captureLogger) Debug(module, message string, d map[string]interface{}) { l.record(message, d) }
func (l *captureLogger) Info(module, message string, d map[string]interface{})  { l.record(message, d) }
func (l *captureLogger) Warn(module, message string, d map[string]interface{})  { l.record(message, d) }
func (l *captureLogger) Error(module, message string, d map[string]interface{}) { l.record(message, d) }
func (l *captureLogger) Sync() error                                            { return nil }

func TestAuditTrailRecordsBareLifecycleCode(t *testing.T) {
	log := &captureLogger{}
	s := NewAuditTrailService(nil, log)

	err := s.handleEvent(context.Background(), events.BaseEvent{
		Type:       "events.TASK_FINISHED",
		Data:       map[string]interface{}{"task_id": "t-1", "outcome": "done"},
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	require.Len(t, log.entries, 1)
	assert.Equal(t, "TASK_FINISHED", log.entries[0])
	assert.Equal(t, "t-1", log.details[0]["task_id"])
}

func TestAuditTrailKeepsUnprefixedCode(t *testing.T) {
	log := &captureLogger{}
	s := NewAuditTrailService(nil, log)

	err := s.handleEvent(context.Background(), events.BaseEvent{Type: "TASK_QUEUED"})
	require.NoError(t, err)

	require.Len(t, log.entries, 1)
	assert.Equal(t, "TASK_QUEUED", log.entries[0])
}
