package websocket

import (
	"context"
	"encoding/json"

	"ai-chat-gateway-be/internal/chat"
	"ai-chat-gateway-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const relayChannel = "chat_events"

// RedisRelay fans locally produced frames out to other instances. Subscribers
// of a chat may be connected to a different instance than the one running the
// chat's tasks; the relay bridges that gap over Redis pub/sub.
type RedisRelay struct {
	instanceID string
	rdb        *redis.Client
	sessions   *chat.SessionManager
	logger     logger.ILogger
}

type relayPayload struct {
	Instance string          `json:"instance"`
	ChatID   string          `json:"chat_id"`
	Frame    json.RawMessage `json:"frame"`
}

func NewRedisRelay(rdb *redis.Client, sessions *chat.SessionManager, log logger.ILogger) *RedisRelay {
	return &RedisRelay{
		instanceID: uuid.New().String(),
		rdb:        rdb,
		sessions:   sessions,
		logger:     log,
	}
}

// Start hooks the relay into the session manager's delivery loop and begins
// consuming remote frames. No-op when Redis is not configured.
func (r *RedisRelay) Start(ctx context.Context) {
	if r.rdb == nil {
		return
	}
	r.sessions.SetRelay(r.publish)
	go r.consume(ctx)
}

func (r *RedisRelay) publish(chatID string, frame []byte) {
	payload, err := json.Marshal(relayPayload{
		Instance: r.instanceID,
		ChatID:   chatID,
		Frame:    frame,
	})
	if err != nil {
		return
	}
	if err := r.rdb.Publish(context.Background(), relayChannel, payload).Err(); err != nil {
		r.logger.Warn("RedisRelay", "Publish failed", map[string]interface{}{
			"chat_id": chatID, "error": err.Error(),
		})
	}
}

func (r *RedisRelay) consume(ctx context.Context) {
	pubsub := r.rdb.Subscribe(ctx, relayChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var payload relayPayload
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				r.logger.Warn("RedisRelay", "Dropping malformed relay payload", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			// Frames we published ourselves were already fanned out locally.
			if payload.Instance == r.instanceID {
				continue
			}
			r.sessions.Broadcast(payload.ChatID, payload.Frame)
		}
	}
}
