package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/internal/protocol"
	"ai-chat-gateway-be/pkg/agent"
	"ai-chat-gateway-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu      sync.Mutex
	stream  agent.Stream
	runErr  error
	lastOpt agent.RunOptions
}

func (f *fakeEngine) Run(ctx context.Context, prompt string, opts agent.RunOptions) (agent.Stream, error) {
	f.mu.Lock()
	f.lastOpt = opts
	f.mu.Unlock()
	if f.runErr != nil {
		return nil, f.runErr
	}
	return f.stream, nil
}

func (f *fakeEngine) lastOpts() agent.RunOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOpt
}

// blockingStream replays its events and then blocks until the context is
// cancelled, simulating an engine that never finishes on its own.
type blockingStream struct {
	events []agent.Event
	pos    int
}

func (s *blockingStream) Next(ctx context.Context) (agent.Event, error) {
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *blockingStream) Close() error { return nil }

type fakeStore struct {
	mu             sync.Mutex
	userMessages   []string
	assistantParts map[string][]store.MessagePart
	resumeToken    string
	storedToken    string
	title          string
	titleErr       error
	titleRequested chan string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		assistantParts: make(map[string][]store.MessagePart),
		titleRequested: make(chan string, 1),
	}
}

func (f *fakeStore) SaveUserMessage(ctx context.Context, chatID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userMessages = append(f.userMessages, content)
	return "user-msg-1", nil
}

func (f *fakeStore) SaveAssistantMessage(ctx context.Context, chatID, messageID string, parts []store.MessagePart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assistantParts[messageID] = parts
	return nil
}

func (f *fakeStore) UpdateResumeToken(ctx context.Context, chatID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storedToken = token
	return nil
}

func (f *fakeStore) GetResumeToken(ctx context.Context, chatID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumeToken, nil
}

func (f *fakeStore) UpdateConnectionStatus(ctx context.Context, chatID string, connected bool) error {
	return nil
}

func (f *fakeStore) GenerateAndSaveTitle(ctx context.Context, chatID, firstMessage string) (string, error) {
	select {
	case f.titleRequested <- firstMessage:
	default:
	}
	if f.titleErr != nil {
		return "", f.titleErr
	}
	if f.title == "" {
		return "", errors.New("no title configured")
	}
	return f.title, nil
}

func (f *fakeStore) VerifyChatOwnership(ctx context.Context, chatID, ownerID string) (bool, error) {
	return true, nil
}

func (f *fakeStore) MessageCount(ctx context.Context, chatID string) (int, error) {
	return 0, nil
}

func (f *fakeStore) savedParts(messageID string) []store.MessagePart {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assistantParts[messageID]
}

func newBridgeFixture(t *testing.T, engine agent.Engine, st *fakeStore) (*Bridge, *SessionManager, *captureSub) {
	t.Helper()
	sessions := NewSessionManager(logger.NewNopLogger())
	sessions.GetOrCreateSession("chat-1", "user-1")
	sub := &captureSub{}
	require.True(t, sessions.Subscribe("chat-1", sub))
	return NewBridge(engine, st, sessions, logger.NewNopLogger()), sessions, sub
}

func testTask() *QueuedTask {
	return &QueuedTask{TaskID: "task-1", ChatID: "chat-1", Prompt: "hello"}
}

func TestRunTaskTranslatesFullStream(t *testing.T) {
	engine := &fakeEngine{stream: agent.NewSliceStream([]agent.Event{
		agent.InitEvent{SessionID: "sess-abc"},
		agent.ThinkingEvent{Text: "pondering "},
		agent.ThinkingEvent{Text: "deeply"},
		agent.ToolUseEvent{ID: "t1", Name: "search", Input: json.RawMessage(`{"q":"go"}`)},
		agent.ToolResultEvent{ToolID: "t1", Content: json.RawMessage(`{"hits":3}`)},
		agent.TextEvent{Text: "Hello "},
		agent.TextEvent{Text: "world"},
		agent.ResultEvent{IsError: false},
	})}
	st := newFakeStore()
	bridge, sessions, sub := newBridgeFixture(t, engine, st)

	require.NoError(t, bridge.RunTask(context.Background(), testTask()))

	waitFor(t, func() bool { return countByType(sub.snapshot(), protocol.TypeTaskDone) == 1 })

	var types []string
	for _, m := range sub.snapshot() {
		types = append(types, m.MessageType())
	}
	assert.Equal(t, []string{
		protocol.TypeSessionInit,
		protocol.TypeReasoning,
		protocol.TypeReasoning,
		protocol.TypeToolUse,
		protocol.TypeToolResult,
		protocol.TypeText,
		protocol.TypeText,
		protocol.TypeReasoning, // final state flip
		protocol.TypeTaskDone,
	}, types)

	msgs := sub.snapshot()
	done := msgs[len(msgs)-1].(protocol.TaskDoneMessage)
	assert.Equal(t, "task-1", done.TaskID)
	require.NotEmpty(t, done.MessageID)

	parts := st.savedParts(done.MessageID)
	require.Len(t, parts, 2)
	reasoning, ok := parts[0].(store.ReasoningPart)
	require.True(t, ok)
	assert.Equal(t, "pondering deeply", reasoning.Text)
	assert.Equal(t, store.ReasoningDone, reasoning.State)
	text, ok := parts[1].(store.TextPart)
	require.True(t, ok)
	assert.Equal(t, "Hello world", text.Text)

	// The init session id becomes the resume token.
	assert.Equal(t, "sess-abc", sessions.ResumeToken("chat-1"))
	assert.Equal(t, "sess-abc", st.storedToken)
}

func TestRunTaskAssemblesFragmentedToolInput(t *testing.T) {
	engine := &fakeEngine{stream: agent.NewSliceStream([]agent.Event{
		agent.ToolUseStartEvent{ID: "t1", Name: "write_file"},
		agent.ToolInputDeltaEvent{PartialJSON: `{"path":"a.`},
		agent.ToolInputDeltaEvent{PartialJSON: `txt","content":"hi"}`},
		agent.ToolUseStopEvent{},
	})}
	st := newFakeStore()
	bridge, _, sub := newBridgeFixture(t, engine, st)

	require.NoError(t, bridge.RunTask(context.Background(), testTask()))
	waitFor(t, func() bool { return countByType(sub.snapshot(), protocol.TypeToolUse) == 1 })

	for _, m := range sub.snapshot() {
		if tool, ok := m.(protocol.ToolUseMessage); ok {
			assert.Equal(t, "write_file", tool.ToolName)
			assert.JSONEq(t, `{"path":"a.txt","content":"hi"}`, string(tool.ToolInput))
		}
	}
}

func TestRunTaskDegradesBrokenToolInputToEmptyObject(t *testing.T) {
	engine := &fakeEngine{stream: agent.NewSliceStream([]agent.Event{
		agent.ToolUseStartEvent{ID: "t1", Name: "search"},
		agent.ToolInputDeltaEvent{PartialJSON: `{"q":"truncat`},
		agent.ToolUseStopEvent{},
	})}
	st := newFakeStore()
	bridge, _, sub := newBridgeFixture(t, engine, st)

	require.NoError(t, bridge.RunTask(context.Background(), testTask()))
	waitFor(t, func() bool { return countByType(sub.snapshot(), protocol.TypeToolUse) == 1 })

	for _, m := range sub.snapshot() {
		if tool, ok := m.(protocol.ToolUseMessage); ok {
			assert.Equal(t, "{}", string(tool.ToolInput))
		}
	}
}

func TestRunTaskFirstInitWins(t *testing.T) {
	engine := &fakeEngine{stream: agent.NewSliceStream([]agent.Event{
		agent.InitEvent{SessionID: "first"},
		agent.InitEvent{SessionID: "second"},
		agent.TextEvent{Text: "hi"},
	})}
	st := newFakeStore()
	bridge, sessions, sub := newBridgeFixture(t, engine, st)

	require.NoError(t, bridge.RunTask(context.Background(), testTask()))
	waitFor(t, func() bool { return countByType(sub.snapshot(), protocol.TypeTaskDone) == 1 })

	assert.Equal(t, 1, countByType(sub.snapshot(), protocol.TypeSessionInit))
	assert.Equal(t, "first", sessions.ResumeToken("chat-1"))
}

func TestRunTaskCancelledMidStreamEmitsTaskStopped(t *testing.T) {
	engine := &fakeEngine{stream: &blockingStream{events: []agent.Event{
		agent.TextEvent{Text: "partial "},
		agent.TextEvent{Text: "answer"},
	}}}
	st := newFakeStore()
	bridge, _, sub := newBridgeFixture(t, engine, st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.RunTask(ctx, testTask()) }()

	waitFor(t, func() bool { return countByType(sub.snapshot(), protocol.TypeText) == 2 })
	cancel()

	err := <-done
	assert.ErrorIs(t, err, ErrStopped)

	waitFor(t, func() bool { return countByType(sub.snapshot(), protocol.TypeTaskStopped) == 1 })
	for _, m := range sub.snapshot() {
		if stopped, ok := m.(protocol.TaskStoppedMessage); ok {
			assert.Equal(t, "task-1", stopped.TaskID)
			assert.Equal(t, "partial answer", stopped.PartialResult)
		}
	}
	// No terminal done after a stop; task_stopped is the terminal event.
	assert.Equal(t, 0, countByType(sub.snapshot(), protocol.TypeTaskDone))
}

func TestRunTaskErrorResultSurfacesAsError(t *testing.T) {
	engine := &fakeEngine{stream: agent.NewSliceStream([]agent.Event{
		agent.TextEvent{Text: "so far so good"},
		agent.ResultEvent{IsError: true, Content: "model overloaded"},
	})}
	st := newFakeStore()
	bridge, _, sub := newBridgeFixture(t, engine, st)

	require.NoError(t, bridge.RunTask(context.Background(), testTask()))
	waitFor(t, func() bool { return countByType(sub.snapshot(), protocol.TypeTaskDone) == 1 })

	found := false
	for _, m := range sub.snapshot() {
		if e, ok := m.(protocol.ErrorMessage); ok {
			found = true
			assert.Equal(t, "model overloaded", e.Content)
		}
	}
	assert.True(t, found)
}

func TestRunTaskUsesStoredResumeToken(t *testing.T) {
	engine := &fakeEngine{stream: agent.NewSliceStream([]agent.Event{
		agent.TextEvent{Text: "hi"},
	})}
	st := newFakeStore()
	st.resumeToken = "persisted-token"
	bridge, _, _ := newBridgeFixture(t, engine, st)

	require.NoError(t, bridge.RunTask(context.Background(), testTask()))

	assert.Equal(t, "persisted-token", engine.lastOpts().ResumeToken)
}

func TestRunTaskTriggersTitleOnFirstMessageOnly(t *testing.T) {
	engine := &fakeEngine{stream: agent.NewSliceStream([]agent.Event{
		agent.TextEvent{Text: "hi"},
	})}
	st := newFakeStore()
	st.title = "Greetings"
	bridge, _, sub := newBridgeFixture(t, engine, st)

	require.NoError(t, bridge.RunTask(context.Background(), testTask()))
	assert.Equal(t, "hello", <-st.titleRequested)

	waitFor(t, func() bool { return countByType(sub.snapshot(), protocol.TypeTitle) == 1 })
	for _, m := range sub.snapshot() {
		if title, ok := m.(protocol.TitleMessage); ok {
			assert.Equal(t, "Greetings", title.SuggestedTitle)
		}
	}

	// Second task on the same session must not regenerate the title.
	engine.stream = agent.NewSliceStream([]agent.Event{agent.TextEvent{Text: "again"}})
	require.NoError(t, bridge.RunTask(context.Background(), testTask()))
	select {
	case <-st.titleRequested:
		t.Fatal("title generated twice")
	default:
	}
}

func TestRunTaskEngineFailurePropagates(t *testing.T) {
	engine := &fakeEngine{runErr: errors.New("engine unreachable")}
	st := newFakeStore()
	bridge, _, _ := newBridgeFixture(t, engine, st)

	err := bridge.RunTask(context.Background(), testTask())
	assert.ErrorContains(t, err, "engine unreachable")
}

func TestRunTaskMissingSession(t *testing.T) {
	engine := &fakeEngine{stream: agent.NewSliceStream(nil)}
	sessions := NewSessionManager(logger.NewNopLogger())
	bridge := NewBridge(engine, newFakeStore(), sessions, logger.NewNopLogger())

	err := bridge.RunTask(context.Background(), testTask())
	assert.Error(t, err)
}
