// Package chat contains the per-conversation orchestration core: session
// bookkeeping, single-flight task execution with queueing, and the bridge
// translating agent event streams into the outward protocol.
package chat

import (
	"context"
	"sync"
	"time"

	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/internal/protocol"
	"ai-chat-gateway-be/pkg/queue"
)

// Subscriber is an opaque connection handle able to receive one serialized
// outbound frame. Implementations must not block for long; the transport
// buffers writes.
type Subscriber interface {
	Deliver(data []byte)
}

// ChatSession is the server-side bookkeeping record for one conversation,
// distinct from the agent engine's resumable session. It exists between the
// first subscribe and either explicit removal or idle eviction.
type ChatSession struct {
	ChatID         string
	OwnerID        string
	ResumeToken    string
	IsProcessing   bool
	LastActivityAt time.Time
	MessageCount   int

	subscribers map[Subscriber]struct{}

	// Queue carries outbound messages produced for this conversation. The
	// manager's delivery loop drains it and fans out to subscribers.
	Queue *queue.MessageQueue[protocol.ServerMessage]
}

// SessionManager owns the session table. Sessions and their queues are only
// mutated through its methods.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*ChatSession
	logger   logger.ILogger
	now      func() time.Time

	// relay, when set, receives every locally delivered frame for
	// cross-instance fan-out.
	relay func(chatID string, frame []byte)
}

func NewSessionManager(log logger.ILogger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*ChatSession),
		logger:   log,
		now:      time.Now,
	}
}

// GetOrCreateSession returns the existing session for chatID or constructs a
// fresh one and starts its delivery loop. Idempotent.
func (m *SessionManager) GetOrCreateSession(chatID, ownerID string) *ChatSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[chatID]; ok {
		return s
	}
	s := &ChatSession{
		ChatID:         chatID,
		OwnerID:        ownerID,
		LastActivityAt: m.now(),
		subscribers:    make(map[Subscriber]struct{}),
		Queue:          queue.New[protocol.ServerMessage](),
	}
	m.sessions[chatID] = s
	go m.deliverLoop(s)
	m.logger.Info("SessionManager", "Session created", map[string]interface{}{"chat_id": chatID, "owner_id": ownerID})
	return s
}

// Get returns the session for chatID, or nil.
func (m *SessionManager) Get(chatID string) *ChatSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[chatID]
}

// Subscribe attaches conn as a subscriber. Returns false if the session does
// not exist; the caller must create it first.
func (m *SessionManager) Subscribe(chatID string, conn Subscriber) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return false
	}
	s.subscribers[conn] = struct{}{}
	s.LastActivityAt = m.now()
	return true
}

// Unsubscribe detaches conn. Detaching a connection that is not subscribed is
// a no-op. Returns the number of subscribers left (0 if the session is gone).
func (m *SessionManager) Unsubscribe(chatID string, conn Subscriber) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return 0
	}
	delete(s.subscribers, conn)
	s.LastActivityAt = m.now()
	return len(s.subscribers)
}

// SubscriberCount reports the current fan-out width for chatID.
func (m *SessionManager) SubscriberCount(chatID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[chatID]; ok {
		return len(s.subscribers)
	}
	return 0
}

// SetResumeToken records the engine's resumable session id. Returns false if
// the session is missing.
func (m *SessionManager) SetResumeToken(chatID, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return false
	}
	s.ResumeToken = token
	return true
}

// ResumeToken returns the stored token, "" when absent.
func (m *SessionManager) ResumeToken(chatID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[chatID]; ok {
		return s.ResumeToken
	}
	return ""
}

// SetProcessing flips the in-flight flag and bumps activity.
func (m *SessionManager) SetProcessing(chatID string, processing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[chatID]; ok {
		s.IsProcessing = processing
		s.LastActivityAt = m.now()
	}
}

// BumpMessageCount increments the session's message counter and returns the
// value before the increment. The bridge uses previous==0 to trigger title
// generation.
func (m *SessionManager) BumpMessageCount(chatID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	if !ok {
		return 0
	}
	prev := s.MessageCount
	s.MessageCount++
	return prev
}

// SetMessageCount seeds the counter from persisted history when a session is
// recreated for an existing chat.
func (m *SessionManager) SetMessageCount(chatID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[chatID]; ok {
		s.MessageCount = n
	}
}

// MessageCount reads the session's counter. Zero for unknown sessions.
func (m *SessionManager) MessageCount(chatID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[chatID]; ok {
		return s.MessageCount
	}
	return 0
}

// CleanupStaleSessions removes sessions idle longer than timeout. Sessions
// currently processing are never evicted, even past the timeout, so a running
// task keeps its delivery target. Returns the number removed.
func (m *SessionManager) CleanupStaleSessions(timeout time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for chatID, s := range m.sessions {
		if s.IsProcessing {
			continue
		}
		if now.Sub(s.LastActivityAt) > timeout {
			s.Queue.Close()
			delete(m.sessions, chatID)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("SessionManager", "Stale sessions evicted", map[string]interface{}{"count": removed})
	}
	return removed
}

// RemoveSession drops the session and closes its queue.
func (m *SessionManager) RemoveSession(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[chatID]; ok {
		s.Queue.Close()
		delete(m.sessions, chatID)
	}
}

// GetActiveSessions snapshots all live sessions.
func (m *SessionManager) GetActiveSessions() []*ChatSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ChatSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// GetSessionsForUser snapshots the sessions owned by userID.
func (m *SessionManager) GetSessionsForUser(userID string) []*ChatSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ChatSession
	for _, s := range m.sessions {
		if s.OwnerID == userID {
			out = append(out, s)
		}
	}
	return out
}

// Push enqueues msg for delivery to chatID's subscribers without waiting.
// Returns false if the session is missing or its queue already closed.
func (m *SessionManager) Push(chatID string, msg protocol.ServerMessage) bool {
	s := m.Get(chatID)
	if s == nil {
		return false
	}
	return s.Queue.PushNoWait(msg) == nil
}

// SetRelay installs the cross-instance fan-out hook. Must be called before
// traffic starts.
func (m *SessionManager) SetRelay(relay func(chatID string, frame []byte)) {
	m.relay = relay
}

// Broadcast delivers an already serialized frame straight to chatID's local
// subscribers, bypassing the queue. Used for frames produced on another
// instance, which arrive pre-ordered.
func (m *SessionManager) Broadcast(chatID string, frame []byte) {
	m.mu.RLock()
	s, ok := m.sessions[chatID]
	if !ok {
		m.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()
	for _, sub := range subs {
		sub.Deliver(frame)
	}
}

// StartSweeper runs the idle-session sweep on a fixed interval until ctx is
// done. Housekeeping is timer-driven, independent of request traffic.
func (m *SessionManager) StartSweeper(ctx context.Context, interval, timeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupStaleSessions(timeout)
			}
		}
	}()
}

// deliverLoop drains the session queue and fans each serialized frame out to
// every current subscriber. One loop per session keeps per-conversation
// ordering intact across the fan-out.
func (m *SessionManager) deliverLoop(s *ChatSession) {
	for {
		msg, err := s.Queue.Recv(context.Background())
		if err != nil {
			return
		}
		data, err := protocol.EncodeServerMessage(msg)
		if err != nil {
			m.logger.Error("SessionManager", "Failed to encode outbound message", map[string]interface{}{
				"chat_id": s.ChatID, "error": err.Error(),
			})
			continue
		}
		m.mu.RLock()
		subs := make([]Subscriber, 0, len(s.subscribers))
		for sub := range s.subscribers {
			subs = append(subs, sub)
		}
		m.mu.RUnlock()
		for _, sub := range subs {
			sub.Deliver(data)
		}
		if m.relay != nil {
			m.relay(s.ChatID, data)
		}
	}
}
