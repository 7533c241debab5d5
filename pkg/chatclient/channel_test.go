package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-chat-gateway-be/internal/pkg/logger"
	"ai-chat-gateway-be/internal/protocol"
	"ai-chat-gateway-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	inbound  chan []byte
	outbound [][]byte
	closed   chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 32),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.mu.Lock()
	c.outbound = append(c.outbound, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// serve pushes a server frame to the client.
func (c *fakeConn) serve(t *testing.T, msg protocol.ServerMessage) {
	t.Helper()
	data, err := protocol.EncodeServerMessage(msg)
	require.NoError(t, err)
	c.inbound <- data
}

func (c *fakeConn) sentTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []string
	for _, data := range c.outbound {
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &probe) == nil {
			types = append(types, probe.Type)
		}
	}
	return types
}

func (c *fakeConn) sentOfType(msgType string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, data := range c.outbound {
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &probe) == nil && probe.Type == msgType {
			out = append(out, data)
		}
	}
	return out
}

// fakeDialer hands out scripted results; a nil conn in the script means a
// dial failure.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("dial refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	if conn == nil {
		return nil, errors.New("dial refused")
	}
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func testConfig() Config {
	return Config{
		URL:    "ws://localhost/ws",
		ChatID: "chat-1",
	}
}

// instantSleep records requested delays and never actually waits.
type instantSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *instantSleep) sleep(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err() == nil
}

func (s *instantSleep) snapshot() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

func TestBackoffDelaySequence(t *testing.T) {
	base := time.Second
	max := 30 * time.Second

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, BackoffDelay(attempt, base, max), "attempt %d", attempt)
	}
	// Large attempt values must not overflow.
	assert.Equal(t, max, BackoffDelay(500, base, max))
}

func TestRetryBoundStopsReconnecting(t *testing.T) {
	dialer := &fakeDialer{} // every dial fails
	sleeper := &instantSleep{}
	ch := NewChannel(Config{URL: "ws://x", ChatID: "chat-1", MaxRetries: 4}, dialer, Handlers{}, logger.NewNopLogger())
	ch.sleep = sleeper.sleep

	ch.Connect(context.Background())

	waitFor(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return !ch.running
	})

	// Initial attempt plus 4 retries.
	assert.Equal(t, 5, dialer.dialCount())
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
	}, sleeper.snapshot())
	assert.Equal(t, StatusDisconnected, ch.Status())
}

func TestAttemptResetsAfterSuccessfulConnect(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{nil, nil, conn}} // two failures, then success
	sleeper := &instantSleep{}
	ch := NewChannel(testConfig(), dialer, Handlers{}, logger.NewNopLogger())
	ch.sleep = sleeper.sleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Connect(ctx)

	waitFor(t, func() bool { return ch.Status() == StatusConnected })
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, sleeper.snapshot())

	// Drop the connection; the next backoff starts from the base delay again.
	conn.Close()
	waitFor(t, func() bool {
		delays := sleeper.snapshot()
		return len(delays) == 3 && delays[2] == 1*time.Second
	})
}

func TestSubscribeSentOnEveryConnect(t *testing.T) {
	conn1, conn2 := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	sleeper := &instantSleep{}
	ch := NewChannel(testConfig(), dialer, Handlers{}, logger.NewNopLogger())
	ch.sleep = sleeper.sleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Connect(ctx)

	waitFor(t, func() bool { return len(conn1.sentOfType(protocol.TypeSubscribe)) == 1 })

	conn1.Close()
	waitFor(t, func() bool { return len(conn2.sentOfType(protocol.TypeSubscribe)) == 1 })
}

func TestInitialPromptSentAtMostOnceAcrossReconnects(t *testing.T) {
	conn1, conn2 := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	sleeper := &instantSleep{}
	cfg := testConfig()
	cfg.InitialPrompt = "summarize this document"
	ch := NewChannel(cfg, dialer, Handlers{}, logger.NewNopLogger())
	ch.sleep = sleeper.sleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Connect(ctx)

	waitFor(t, func() bool { return len(conn1.sentOfType(protocol.TypeChat)) == 1 })

	var chat protocol.ChatRequestMessage
	require.NoError(t, json.Unmarshal(conn1.sentOfType(protocol.TypeChat)[0], &chat))
	assert.Equal(t, "summarize this document", chat.Content)

	conn1.Close()
	waitFor(t, func() bool { return len(conn2.sentOfType(protocol.TypeSubscribe)) == 1 })

	// Give the second connection time to (incorrectly) send; it must not.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, conn2.sentOfType(protocol.TypeChat))
}

func TestSendMessageRejectedWhileStreaming(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	ch := NewChannel(testConfig(), dialer, Handlers{}, logger.NewNopLogger())
	ch.sleep = (&instantSleep{}).sleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Connect(ctx)
	waitFor(t, func() bool { return ch.Status() == StatusConnected })

	require.NoError(t, ch.SendMessage("first"))
	assert.ErrorIs(t, ch.SendMessage("second"), ErrAlreadyStreaming)

	// The terminal done releases the channel for the next send.
	conn.serve(t, protocol.TaskDoneMessage{ChatID: "chat-1", TaskID: "t1", MessageID: "m1"})
	waitFor(t, func() bool { return !ch.Streaming() })
	assert.NoError(t, ch.SendMessage("second"))
}

func TestSendMessageRejectedWhileDisconnected(t *testing.T) {
	ch := NewChannel(testConfig(), &fakeDialer{}, Handlers{}, logger.NewNopLogger())
	assert.ErrorIs(t, ch.SendMessage("hello"), ErrNotConnected)
}

func TestReassemblyOrdersParts(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	ch := NewChannel(testConfig(), dialer, Handlers{}, logger.NewNopLogger())
	ch.sleep = (&instantSleep{}).sleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Connect(ctx)
	waitFor(t, func() bool { return ch.Status() == StatusConnected })
	require.NoError(t, ch.SendMessage("do the thing"))

	// Deltas arrive interleaved: text before reasoning finishes, tool calls in
	// the middle. The rebuilt message must still order reasoning, tool pairs,
	// then text.
	conn.serve(t, protocol.ReasoningMessage{ChatID: "chat-1", Content: "thinking", State: store.ReasoningStreaming})
	conn.serve(t, protocol.TextMessage{ChatID: "chat-1", Content: "The answer"})
	conn.serve(t, protocol.ToolUseMessage{ChatID: "chat-1", ToolID: "t1", ToolName: "search", ToolInput: json.RawMessage(`{"q":"x"}`)})
	conn.serve(t, protocol.ToolResultMessage{ChatID: "chat-1", ToolID: "t1", ToolResult: json.RawMessage(`{"hits":2}`)})
	conn.serve(t, protocol.TextMessage{ChatID: "chat-1", Content: " is 42"})
	conn.serve(t, protocol.TaskDoneMessage{ChatID: "chat-1", TaskID: "task-1", MessageID: "msg-9"})

	waitFor(t, func() bool { return !ch.Streaming() })

	msgs := ch.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)

	assistant := msgs[1]
	assert.Equal(t, "msg-9", assistant.ID)
	require.Len(t, assistant.Parts, 4)

	reasoning, ok := assistant.Parts[0].(store.ReasoningPart)
	require.True(t, ok)
	assert.Equal(t, "thinking", reasoning.Text)
	assert.Equal(t, store.ReasoningDone, reasoning.State)

	toolUse, ok := assistant.Parts[1].(store.ToolUsePart)
	require.True(t, ok)
	assert.Equal(t, "search", toolUse.ToolName)

	toolResult, ok := assistant.Parts[2].(store.ToolResultPart)
	require.True(t, ok)
	assert.Equal(t, "t1", toolResult.ToolCallID)

	text, ok := assistant.Parts[3].(store.TextPart)
	require.True(t, ok)
	assert.Equal(t, "The answer is 42", text.Text)
}

func TestForeignChatFramesAreDropped(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	ch := NewChannel(testConfig(), dialer, Handlers{}, logger.NewNopLogger())
	ch.sleep = (&instantSleep{}).sleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Connect(ctx)
	waitFor(t, func() bool { return ch.Status() == StatusConnected })
	require.NoError(t, ch.SendMessage("hi"))

	conn.serve(t, protocol.TextMessage{ChatID: "other-chat", Content: "not for you"})
	conn.serve(t, protocol.TextMessage{ChatID: "chat-1", Content: "for you"})
	conn.serve(t, protocol.TaskDoneMessage{ChatID: "chat-1", TaskID: "t1", MessageID: "m1"})

	waitFor(t, func() bool { return !ch.Streaming() })

	msgs := ch.Messages()
	require.Len(t, msgs, 2)
	text, ok := msgs[1].Parts[0].(store.TextPart)
	require.True(t, ok)
	assert.Equal(t, "for you", text.Text)
}

func TestStopSendsCurrentTaskID(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	ch := NewChannel(testConfig(), dialer, Handlers{}, logger.NewNopLogger())
	ch.sleep = (&instantSleep{}).sleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Connect(ctx)
	waitFor(t, func() bool { return ch.Status() == StatusConnected })
	require.NoError(t, ch.SendMessage("long task"))

	conn.serve(t, protocol.TaskStartedMessage{ChatID: "chat-1", TaskID: "task-42"})
	waitFor(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.currentTaskID == "task-42"
	})

	require.NoError(t, ch.Stop())
	// Status stays streaming until the server's terminal event.
	assert.True(t, ch.Streaming())

	stops := conn.sentOfType(protocol.TypeStop)
	require.Len(t, stops, 1)
	var stop protocol.StopMessage
	require.NoError(t, json.Unmarshal(stops[0], &stop))
	assert.Equal(t, "task-42", stop.TaskID)

	conn.serve(t, protocol.TaskStoppedMessage{ChatID: "chat-1", TaskID: "task-42", PartialResult: "partial"})
	waitFor(t, func() bool { return !ch.Streaming() })
}

func TestRegenerateResendsPrecedingUserMessage(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	ch := NewChannel(testConfig(), dialer, Handlers{}, logger.NewNopLogger())
	ch.sleep = (&instantSleep{}).sleep

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Connect(ctx)
	waitFor(t, func() bool { return ch.Status() == StatusConnected })

	require.NoError(t, ch.SendMessage("original question"))
	conn.serve(t, protocol.TextMessage{ChatID: "chat-1", Content: "bad answer"})
	conn.serve(t, protocol.TaskDoneMessage{ChatID: "chat-1", TaskID: "t1", MessageID: "m1"})
	waitFor(t, func() bool { return !ch.Streaming() })
	require.Len(t, ch.Messages(), 2)

	require.NoError(t, ch.Regenerate())

	// Transcript restarts from the resent user message.
	msgs := ch.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)

	chats := conn.sentOfType(protocol.TypeChat)
	require.Len(t, chats, 2)
	var second protocol.ChatRequestMessage
	require.NoError(t, json.Unmarshal(chats[1], &second))
	assert.Equal(t, "original question", second.Content)
}

func TestRegenerateWithoutAssistantMessage(t *testing.T) {
	ch := NewChannel(testConfig(), &fakeDialer{}, Handlers{}, logger.NewNopLogger())
	assert.ErrorIs(t, ch.Regenerate(), ErrNothingToRegenerate)
}
