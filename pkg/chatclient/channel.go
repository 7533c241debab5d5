// Package chatclient implements the consuming side of the chat protocol: a
// reconnecting duplex channel that accumulates streamed deltas into
// renderable messages and exposes a send/stop/regenerate contract.
package chatclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/internal/protocol"
	"ai-chat-gateway-be/pkg/store"

	"github.com/google/uuid"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// streamingMessageID marks the in-flight assistant message until the server
// assigns the persisted id in task_done.
const streamingMessageID = "streaming"

var (
	ErrNotConnected        = errors.New("chatclient: not connected")
	ErrAlreadyStreaming    = errors.New("chatclient: a message is already streaming")
	ErrNothingToRegenerate = errors.New("chatclient: no assistant message to regenerate")
)

// Config tunes one channel instance.
type Config struct {
	URL    string
	ChatID string
	Token  string
	Model  string

	// InitialPrompt, when set, is sent as a chat message once per channel
	// lifetime, shortly after the first successful subscribe.
	InitialPrompt string

	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int

	// SubscribeSettle is the fixed delay between subscribe and the initial
	// prompt, letting the subscribe land first.
	SubscribeSettle time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	if c.SubscribeSettle <= 0 {
		c.SubscribeSettle = 100 * time.Millisecond
	}
	return c
}

// Handlers are the channel's upward callbacks. All are optional and invoked
// from the read loop goroutine.
type Handlers struct {
	OnMessages func(messages []store.ChatMessage)
	OnStatus   func(status Status)
	OnTitle    func(title string)
	OnError    func(content string)
}

// BackoffDelay computes the reconnect delay for a 0-based attempt counter:
// min(base * 2^attempt, max).
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// Channel is one logical chat connection.
type Channel struct {
	cfg      Config
	dialer   Dialer
	handlers Handlers
	logger   logger.ILogger

	mu                sync.Mutex
	status            Status
	streaming         bool
	conn              Conn
	attempt           int
	running           bool
	initialPromptSent bool
	currentTaskID     string
	messages          []store.ChatMessage
	asm               *assembler

	// sleep is swappable so tests can observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewChannel(cfg Config, dialer Dialer, handlers Handlers, log logger.ILogger) *Channel {
	return &Channel{
		cfg:      cfg.withDefaults(),
		dialer:   dialer,
		handlers: handlers,
		logger:   log,
		status:   StatusDisconnected,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Connect starts the connect/reconnect loop. It returns immediately; status
// transitions are reported through Handlers.OnStatus. Calling Connect while
// the loop is already running is a no-op.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.attempt = 0
	c.mu.Unlock()

	go c.runLoop(ctx)
}

// Reconnect restarts the loop after the retry bound was exhausted.
func (c *Channel) Reconnect(ctx context.Context) {
	c.Connect(ctx)
}

func (c *Channel) runLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.setStatus(StatusDisconnected)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		c.setStatus(StatusConnecting)

		conn, err := c.dialer.Dial(ctx, c.cfg.URL)
		if err != nil {
			c.logger.Warn("ChatClient", "Connect failed", map[string]interface{}{
				"chat_id": c.cfg.ChatID, "error": err.Error(),
			})
			if !c.backoff(ctx) {
				return
			}
			continue
		}

		c.onConnected(ctx, conn)
		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.streaming = false
		c.mu.Unlock()
		c.setStatus(StatusDisconnected)

		if ctx.Err() != nil {
			return
		}
		if !c.backoff(ctx) {
			return
		}
	}
}

// backoff waits before the next attempt. Returns false when the retry bound
// is exhausted or the context ended; the channel then stays disconnected
// until an explicit Reconnect.
func (c *Channel) backoff(ctx context.Context) bool {
	c.mu.Lock()
	attempt := c.attempt
	c.attempt++
	exhausted := c.attempt > c.cfg.MaxRetries
	c.mu.Unlock()

	if exhausted {
		c.logger.Warn("ChatClient", "Retry budget exhausted", map[string]interface{}{
			"chat_id": c.cfg.ChatID, "attempts": attempt + 1,
		})
		return false
	}

	delay := BackoffDelay(attempt, c.cfg.BaseDelay, c.cfg.MaxDelay)
	c.setStatus(StatusDisconnected)
	return c.sleep(ctx, delay)
}

func (c *Channel) onConnected(ctx context.Context, conn Conn) {
	c.mu.Lock()
	c.conn = conn
	c.attempt = 0
	sendInitial := c.cfg.InitialPrompt != "" && !c.initialPromptSent
	if sendInitial {
		// Flag flips before the send so reconnect races can never double-send.
		c.initialPromptSent = true
	}
	c.mu.Unlock()

	c.setStatus(StatusConnected)

	c.send(protocol.SubscribeMessage{ChatID: c.cfg.ChatID, Token: c.cfg.Token})

	if sendInitial {
		go func() {
			if !c.sleep(ctx, c.cfg.SubscribeSettle) {
				return
			}
			if err := c.SendMessage(c.cfg.InitialPrompt); err != nil {
				c.logger.Warn("ChatClient", "Initial prompt send failed", map[string]interface{}{
					"chat_id": c.cfg.ChatID, "error": err.Error(),
				})
			}
		}()
	}
}

func (c *Channel) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(data)
	}
}

func (c *Channel) setStatus(status Status) {
	c.mu.Lock()
	changed := c.status != status
	c.status = status
	c.mu.Unlock()
	if changed && c.handlers.OnStatus != nil {
		c.handlers.OnStatus(status)
	}
}

// Status reports the connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Streaming reports whether an assistant response is in flight.
func (c *Channel) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Messages returns a snapshot of the local transcript.
func (c *Channel) Messages() []store.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]store.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// SendMessage transmits a user prompt. Rejected while disconnected or while a
// response is already streaming.
func (c *Channel) SendMessage(text string) error {
	c.mu.Lock()
	if c.status != StatusConnected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.streaming {
		c.mu.Unlock()
		return ErrAlreadyStreaming
	}
	conn := c.conn
	c.streaming = true
	c.asm = newAssembler()
	c.messages = append(c.messages, store.ChatMessage{
		ID:    uuid.New().String(),
		Role:  store.RoleUser,
		Parts: []store.MessagePart{store.TextPart{Text: text}},
	})
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notifyMessages(snapshot)

	data, err := protocol.EncodeClientMessage(protocol.ChatRequestMessage{
		ChatID:  c.cfg.ChatID,
		Content: text,
		Model:   c.cfg.Model,
	})
	if err == nil {
		err = conn.WriteMessage(data)
	}
	if err != nil {
		c.mu.Lock()
		c.streaming = false
		c.mu.Unlock()
		return err
	}
	return nil
}

// Stop requests cancellation of the current task. Local status is not flipped
// here; the authoritative change arrives as task_stopped or task_done.
func (c *Channel) Stop() error {
	c.mu.Lock()
	conn := c.conn
	taskID := c.currentTaskID
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := protocol.EncodeClientMessage(protocol.StopMessage{
		ChatID: c.cfg.ChatID,
		TaskID: taskID,
	})
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}

// Regenerate discards the trailing assistant message and its preceding user
// message, then resends the user text.
func (c *Channel) Regenerate() error {
	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return ErrAlreadyStreaming
	}
	n := len(c.messages)
	if n < 2 || c.messages[n-1].Role != store.RoleAssistant || c.messages[n-2].Role != store.RoleUser {
		c.mu.Unlock()
		return ErrNothingToRegenerate
	}
	userMsg := c.messages[n-2]
	c.messages = c.messages[:n-2]
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notifyMessages(snapshot)

	var text string
	for _, part := range userMsg.Parts {
		if tp, ok := part.(store.TextPart); ok {
			text = tp.Text
			break
		}
	}
	return c.SendMessage(text)
}

// Close tears the connection down. The caller cancels the Connect context to
// stop the loop.
func (c *Channel) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Channel) send(msg protocol.ClientMessage) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	data, err := protocol.EncodeClientMessage(msg)
	if err == nil {
		err = conn.WriteMessage(data)
	}
	if err != nil {
		c.logger.Warn("ChatClient", "Send failed", map[string]interface{}{
			"chat_id": c.cfg.ChatID, "type": msg.MessageType(), "error": err.Error(),
		})
	}
}

func (c *Channel) handleFrame(data []byte) {
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		c.logger.Warn("ChatClient", "Dropping undecodable frame", map[string]interface{}{
			"chat_id": c.cfg.ChatID, "error": err.Error(),
		})
		return
	}

	// Frames for other logical channels on a shared transport are dropped.
	if id := serverChatID(msg); id != "" && id != c.cfg.ChatID {
		return
	}

	switch m := msg.(type) {
	case protocol.TaskStartedMessage:
		c.mu.Lock()
		c.currentTaskID = m.TaskID
		c.mu.Unlock()

	case protocol.TextMessage:
		c.applyDelta(func(a *assembler) { a.addText(m.Content) })

	case protocol.ReasoningMessage:
		c.applyDelta(func(a *assembler) { a.addReasoning(m.Content, m.State) })

	case protocol.ToolUseMessage:
		c.applyDelta(func(a *assembler) { a.addToolUse(m) })

	case protocol.ToolResultMessage:
		c.applyDelta(func(a *assembler) { a.addToolResult(m) })

	case protocol.TaskDoneMessage:
		c.finalize(m.MessageID)

	case protocol.TaskStoppedMessage:
		c.finalize(m.TaskID)

	case protocol.TitleMessage:
		if c.handlers.OnTitle != nil {
			c.handlers.OnTitle(m.SuggestedTitle)
		}

	case protocol.ErrorMessage:
		if c.handlers.OnError != nil {
			c.handlers.OnError(m.Content)
		}
	}
}

// applyDelta feeds one delta into the assembler and replaces the in-flight
// assistant message with a freshly built one.
func (c *Channel) applyDelta(apply func(*assembler)) {
	c.mu.Lock()
	if c.asm == nil {
		c.asm = newAssembler()
	}
	apply(c.asm)
	built := c.asm.build(streamingMessageID)
	c.replaceStreamingLocked(built)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notifyMessages(snapshot)
}

// finalize retires the in-flight assistant message under its persisted id and
// flips the channel back to idle.
func (c *Channel) finalize(messageID string) {
	c.mu.Lock()
	if c.asm != nil && !c.asm.empty() {
		c.asm.reasoningState = store.ReasoningDone
		built := c.asm.build(messageID)
		c.replaceStreamingLocked(built)
	}
	c.asm = nil
	c.streaming = false
	c.currentTaskID = ""
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notifyMessages(snapshot)
}

// replaceStreamingLocked swaps the trailing in-flight assistant message for
// the rebuilt one, or appends it on the first delta.
func (c *Channel) replaceStreamingLocked(built store.ChatMessage) {
	n := len(c.messages)
	if n > 0 && c.messages[n-1].Role == store.RoleAssistant &&
		(c.messages[n-1].ID == streamingMessageID || c.messages[n-1].ID == built.ID) {
		c.messages[n-1] = built
		return
	}
	c.messages = append(c.messages, built)
}

func (c *Channel) snapshotLocked() []store.ChatMessage {
	out := make([]store.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Channel) notifyMessages(snapshot []store.ChatMessage) {
	if c.handlers.OnMessages != nil {
		c.handlers.OnMessages(snapshot)
	}
}

func serverChatID(msg protocol.ServerMessage) string {
	switch m := msg.(type) {
	case protocol.SessionInitMessage:
		return m.ChatID
	case protocol.TextMessage:
		return m.ChatID
	case protocol.ReasoningMessage:
		return m.ChatID
	case protocol.ToolUseMessage:
		return m.ChatID
	case protocol.ToolResultMessage:
		return m.ChatID
	case protocol.TitleMessage:
		return m.ChatID
	case protocol.TaskQueuedMessage:
		return m.ChatID
	case protocol.TaskStartedMessage:
		return m.ChatID
	case protocol.TaskDoneMessage:
		return m.ChatID
	case protocol.TaskStoppedMessage:
		return m.ChatID
	case protocol.QueueStatusMessage:
		return m.ChatID
	case protocol.ErrorMessage:
		return m.ChatID
	default:
		return ""
	}
}
