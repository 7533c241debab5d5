package websocket

import (
	"context"
	"time"

	"ai-chat-gateway-be/internal/chat"
	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/internal/protocol"
)

const collaboratorTimeout = 5 * time.Second

// TokenVerifier authenticates a subscribe token and yields the user id.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Handler dispatches decoded inbound frames against the chat core. Protocol
// errors are answered with a targeted error message on the offending
// connection; session state stays untouched.
type Handler struct {
	sessions *chat.SessionManager
	tasks    *chat.TaskManager
	store    chat.MessageStore
	verifier TokenVerifier
	logger   logger.ILogger
}

func NewHandler(
	sessions *chat.SessionManager,
	tasks *chat.TaskManager,
	messageStore chat.MessageStore,
	verifier TokenVerifier,
	log logger.ILogger,
) *Handler {
	return &Handler{
		sessions: sessions,
		tasks:    tasks,
		store:    messageStore,
		verifier: verifier,
		logger:   log,
	}
}

// HandleFrame decodes and dispatches one inbound frame.
func (h *Handler) HandleFrame(c *Client, data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		h.sendError(c, "", "malformed message")
		return
	}

	switch m := msg.(type) {
	case protocol.SubscribeMessage:
		h.handleSubscribe(c, m)
	case protocol.UnsubscribeMessage:
		h.handleUnsubscribe(c, m)
	case protocol.ChatRequestMessage:
		h.handleChat(c, m)
	case protocol.StopMessage:
		h.handleStop(c, m)
	case protocol.PingMessage:
		h.reply(c, protocol.PongMessage{})
	}
}

func (h *Handler) handleSubscribe(c *Client, m protocol.SubscribeMessage) {
	userID, err := h.verifier.VerifyToken(m.Token)
	if err != nil {
		h.sendError(c, m.ChatID, "authentication failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
	defer cancel()

	owned, err := h.store.VerifyChatOwnership(ctx, m.ChatID, userID)
	if err != nil {
		h.logger.Error("WebSocket", "Ownership check failed", map[string]interface{}{
			"chat_id": m.ChatID, "error": err.Error(),
		})
		h.sendError(c, m.ChatID, "could not verify chat access")
		return
	}
	if !owned {
		h.sendError(c, m.ChatID, "access denied")
		return
	}

	h.sessions.GetOrCreateSession(m.ChatID, userID)
	if h.sessions.MessageCount(m.ChatID) == 0 {
		// A recreated session for an existing chat seeds its counter from
		// history so title generation does not re-trigger.
		if n, err := h.store.MessageCount(ctx, m.ChatID); err == nil && n > 0 {
			h.sessions.SetMessageCount(m.ChatID, n)
		}
	}

	h.sessions.Subscribe(m.ChatID, c)
	c.setUserID(userID)
	c.track(m.ChatID)

	if err := h.store.UpdateConnectionStatus(ctx, m.ChatID, true); err != nil {
		h.logger.Warn("WebSocket", "Failed to record connection status", map[string]interface{}{
			"chat_id": m.ChatID, "error": err.Error(),
		})
	}

	runningID, queuedIDs := h.tasks.GetStatus(m.ChatID)
	h.reply(c, protocol.QueueStatusMessage{
		ChatID:        m.ChatID,
		RunningTaskID: runningID,
		QueuedTaskIDs: queuedIDs,
	})
}

func (h *Handler) handleUnsubscribe(c *Client, m protocol.UnsubscribeMessage) {
	// Unsubscribing a connection that never subscribed is a no-op.
	if !c.tracked(m.ChatID) {
		return
	}
	c.untrack(m.ChatID)
	left := h.sessions.Unsubscribe(m.ChatID, c)
	if left == 0 {
		h.lastSubscriberGone(m.ChatID)
	}
}

func (h *Handler) handleChat(c *Client, m protocol.ChatRequestMessage) {
	if !c.tracked(m.ChatID) {
		h.sendError(c, m.ChatID, "not subscribed to this chat")
		return
	}

	if m.NewConversation {
		h.sessions.SetResumeToken(m.ChatID, "")
		ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
		if err := h.store.UpdateResumeToken(ctx, m.ChatID, ""); err != nil {
			h.logger.Warn("WebSocket", "Failed to clear resume token", map[string]interface{}{
				"chat_id": m.ChatID, "error": err.Error(),
			})
		}
		cancel()
	}

	if _, err := h.tasks.QueueTask(m.ChatID, m.Content, m.Model); err != nil {
		h.sendError(c, m.ChatID, "could not queue task")
	}
}

func (h *Handler) handleStop(c *Client, m protocol.StopMessage) {
	if !c.tracked(m.ChatID) {
		h.sendError(c, m.ChatID, "not subscribed to this chat")
		return
	}

	var stopped bool
	if m.TaskID == "" {
		stopped = h.tasks.StopCurrent(m.ChatID)
	} else {
		stopped = h.tasks.StopTask(m.ChatID, m.TaskID)
	}
	if !stopped {
		h.sendError(c, m.ChatID, "no matching task to stop")
	}
}

// Disconnect detaches the client from every chat it subscribed to. The last
// subscriber leaving tears the chat's runtime state down.
func (h *Handler) Disconnect(c *Client) {
	chats := c.trackedChats()
	if len(chats) > 0 {
		h.logger.Info("WebSocket", "Client disconnected", map[string]interface{}{
			"client_id": c.ID, "user_id": c.getUserID(), "chats": len(chats),
		})
	}
	for _, chatID := range chats {
		c.untrack(chatID)
		left := h.sessions.Unsubscribe(chatID, c)
		if left == 0 {
			h.lastSubscriberGone(chatID)
		}
	}
}

func (h *Handler) lastSubscriberGone(chatID string) {
	h.tasks.Cleanup(chatID)
	ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
	defer cancel()
	if err := h.store.UpdateConnectionStatus(ctx, chatID, false); err != nil {
		h.logger.Warn("WebSocket", "Failed to record disconnect", map[string]interface{}{
			"chat_id": chatID, "error": err.Error(),
		})
	}
}

func (h *Handler) reply(c *Client, msg protocol.ServerMessage) {
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		return
	}
	c.Deliver(data)
}

func (h *Handler) sendError(c *Client, chatID, content string) {
	h.reply(c, protocol.ErrorMessage{ChatID: chatID, Content: content})
}
