package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/internal/protocol"
	"ai-chat-gateway-be/pkg/agent"
	"ai-chat-gateway-be/pkg/queue"
	"ai-chat-gateway-be/pkg/store"

	"github.com/google/uuid"
)

const titleTimeout = 30 * time.Second

// Bridge drives one agent run per task and translates the engine's event
// stream into outward protocol messages, pushed into the session queue with
// delivery backpressure. It implements TaskRunner.
type Bridge struct {
	engine   agent.Engine
	store    MessageStore
	sessions *SessionManager
	logger   logger.ILogger
}

var _ TaskRunner = &Bridge{}

func NewBridge(engine agent.Engine, messageStore MessageStore, sessions *SessionManager, log logger.ILogger) *Bridge {
	return &Bridge{
		engine:   engine,
		store:    messageStore,
		sessions: sessions,
		logger:   log,
	}
}

// streamState is the per-task translator state carried across events.
type streamState struct {
	chatID string

	currentToolID   string
	currentToolName string
	toolInputJSON   strings.Builder

	fullText      strings.Builder
	reasoningText strings.Builder

	// sessionID captures the engine's resumable session id. First init wins;
	// a task has exactly one resumable session.
	sessionID string
}

// translate maps one agent event to zero or more protocol messages.
func (st *streamState) translate(ev agent.Event) []protocol.ServerMessage {
	switch e := ev.(type) {
	case agent.InitEvent:
		if st.sessionID != "" {
			return nil
		}
		st.sessionID = e.SessionID
		return []protocol.ServerMessage{protocol.SessionInitMessage{ChatID: st.chatID, SessionID: e.SessionID}}

	case agent.TextEvent:
		st.fullText.WriteString(e.Text)
		return []protocol.ServerMessage{protocol.TextMessage{ChatID: st.chatID, Content: e.Text}}

	case agent.ThinkingEvent:
		st.reasoningText.WriteString(e.Text)
		return []protocol.ServerMessage{protocol.ReasoningMessage{ChatID: st.chatID, Content: e.Text, State: store.ReasoningStreaming}}

	case agent.ToolUseEvent:
		input := e.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return []protocol.ServerMessage{protocol.ToolUseMessage{
			ChatID: st.chatID, ToolID: e.ID, ToolName: e.Name, ToolInput: input,
		}}

	case agent.ToolUseStartEvent:
		st.currentToolID = e.ID
		st.currentToolName = e.Name
		st.toolInputJSON.Reset()
		return nil

	case agent.ToolInputDeltaEvent:
		st.toolInputJSON.WriteString(e.PartialJSON)
		return nil

	case agent.ToolUseStopEvent:
		if st.currentToolID == "" {
			return nil
		}
		raw := st.toolInputJSON.String()
		input := json.RawMessage(raw)
		if !json.Valid(input) {
			// The engine may truncate fragmented argument JSON; degrade to an
			// empty object rather than dropping the call.
			input = json.RawMessage("{}")
		}
		msg := protocol.ToolUseMessage{
			ChatID: st.chatID, ToolID: st.currentToolID, ToolName: st.currentToolName, ToolInput: input,
		}
		st.currentToolID = ""
		st.currentToolName = ""
		st.toolInputJSON.Reset()
		return []protocol.ServerMessage{msg}

	case agent.ToolResultEvent:
		result := e.Content
		if !json.Valid(result) {
			quoted, _ := json.Marshal(string(e.Content))
			result = quoted
		}
		return []protocol.ServerMessage{protocol.ToolResultMessage{
			ChatID: st.chatID, ToolID: e.ToolID, ToolResult: result, IsError: e.IsError,
		}}

	case agent.ResultEvent:
		if e.IsError {
			return []protocol.ServerMessage{protocol.ErrorMessage{ChatID: st.chatID, Content: e.Content}}
		}
		return nil

	default:
		return nil
	}
}

// RunTask executes one queued task: persist the prompt, drive the agent
// stream, translate and deliver every event in order, then persist the
// accumulated assistant message and resume token.
func (b *Bridge) RunTask(ctx context.Context, task *QueuedTask) error {
	session := b.sessions.Get(task.ChatID)
	if session == nil {
		return errors.New("session vanished before task start")
	}

	if _, err := b.store.SaveUserMessage(ctx, task.ChatID, task.Prompt); err != nil {
		b.logger.Error("Bridge", "Failed to persist user message", map[string]interface{}{
			"chat_id": task.ChatID, "error": err.Error(),
		})
	}

	if prev := b.sessions.BumpMessageCount(task.ChatID); prev == 0 {
		b.generateTitle(task.ChatID, task.Prompt)
	}

	resumeToken := b.sessions.ResumeToken(task.ChatID)
	if resumeToken == "" {
		if tok, err := b.store.GetResumeToken(ctx, task.ChatID); err == nil && tok != "" {
			resumeToken = tok
			b.sessions.SetResumeToken(task.ChatID, tok)
		}
	}

	stream, err := b.engine.Run(ctx, task.Prompt, agent.RunOptions{
		ResumeToken: resumeToken,
		Model:       task.Model,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	st := &streamState{chatID: task.ChatID}

	for {
		// Cancellation checkpoint: takes effect between events, never
		// mid-await on the engine; partial output is preserved.
		if ctx.Err() != nil {
			return b.stopped(session, task, st)
		}

		ev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return b.stopped(session, task, st)
		}
		if err != nil {
			return err
		}

		for _, msg := range st.translate(ev) {
			if err := session.Queue.Push(ctx, msg); err != nil {
				if errors.Is(err, context.Canceled) {
					return b.stopped(session, task, st)
				}
				return err
			}
		}
	}

	return b.finish(ctx, session, task, st)
}

// finish flips reasoning to its final state, persists the assistant message
// and resume token, then emits the terminal done.
func (b *Bridge) finish(ctx context.Context, session *ChatSession, task *QueuedTask, st *streamState) error {
	if st.reasoningText.Len() > 0 {
		done := protocol.ReasoningMessage{ChatID: task.ChatID, State: store.ReasoningDone}
		if err := session.Queue.Push(ctx, done); err != nil && !errors.Is(err, queue.ErrClosed) {
			return err
		}
	}

	messageID := uuid.New().String()

	var parts []store.MessagePart
	if st.reasoningText.Len() > 0 {
		parts = append(parts, store.ReasoningPart{Text: st.reasoningText.String(), State: store.ReasoningDone})
	}
	if st.fullText.Len() > 0 {
		parts = append(parts, store.TextPart{Text: st.fullText.String()})
	}
	if len(parts) > 0 {
		if err := b.store.SaveAssistantMessage(ctx, task.ChatID, messageID, parts); err != nil {
			b.logger.Error("Bridge", "Failed to persist assistant message", map[string]interface{}{
				"chat_id": task.ChatID, "message_id": messageID, "error": err.Error(),
			})
		}
	}

	if st.sessionID != "" {
		b.sessions.SetResumeToken(task.ChatID, st.sessionID)
		if err := b.store.UpdateResumeToken(ctx, task.ChatID, st.sessionID); err != nil {
			b.logger.Error("Bridge", "Failed to persist resume token", map[string]interface{}{
				"chat_id": task.ChatID, "error": err.Error(),
			})
		}
	}

	err := session.Queue.Push(ctx, protocol.TaskDoneMessage{
		ChatID:    task.ChatID,
		TaskID:    task.TaskID,
		MessageID: messageID,
	})
	if err != nil && !errors.Is(err, queue.ErrClosed) {
		return err
	}
	return nil
}

// stopped emits the terminal task_stopped with whatever text accumulated and
// skips the rest of the stream.
func (b *Bridge) stopped(session *ChatSession, task *QueuedTask, st *streamState) error {
	session.Queue.PushNoWait(protocol.TaskStoppedMessage{
		ChatID:        task.ChatID,
		TaskID:        task.TaskID,
		PartialResult: st.fullText.String(),
	})
	return ErrStopped
}

// generateTitle fires title generation in the background; failures are logged
// and never reach the streaming loop.
func (b *Bridge) generateTitle(chatID, firstMessage string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("Bridge", "Title generation panicked", map[string]interface{}{
					"chat_id": chatID, "panic": r,
				})
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()
		title, err := b.store.GenerateAndSaveTitle(ctx, chatID, firstMessage)
		if err != nil {
			b.logger.Warn("Bridge", "Title generation failed", map[string]interface{}{
				"chat_id": chatID, "error": err.Error(),
			})
			return
		}
		b.sessions.Push(chatID, protocol.TitleMessage{ChatID: chatID, SuggestedTitle: title})
	}()
}
