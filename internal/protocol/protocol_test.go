package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeServerMessageSplicesType(t *testing.T) {
	data, err := EncodeServerMessage(TextMessage{ChatID: "c1", Content: "hi"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "text", fields["type"])
	assert.Equal(t, "c1", fields["chatId"])
	assert.Equal(t, "hi", fields["content"])
}

func TestServerMessageRoundTrip(t *testing.T) {
	messages := []ServerMessage{
		PongMessage{},
		SessionInitMessage{ChatID: "c1", SessionID: "s1"},
		TextMessage{ChatID: "c1", Content: "hello"},
		ReasoningMessage{ChatID: "c1", Content: "hmm", State: "streaming"},
		ToolUseMessage{ChatID: "c1", ToolID: "t1", ToolName: "search", ToolInput: json.RawMessage(`{"q":"go"}`)},
		ToolResultMessage{ChatID: "c1", ToolID: "t1", ToolResult: json.RawMessage(`{"hits":1}`), IsError: true},
		TitleMessage{ChatID: "c1", SuggestedTitle: "Hello"},
		TaskQueuedMessage{ChatID: "c1", TaskID: "t1", Position: 2, QueueLength: 2},
		TaskStartedMessage{ChatID: "c1", TaskID: "t1", SessionID: "s1"},
		TaskDoneMessage{ChatID: "c1", TaskID: "t1", MessageID: "m1"},
		TaskStoppedMessage{ChatID: "c1", TaskID: "t1", PartialResult: "par"},
		QueueStatusMessage{ChatID: "c1", RunningTaskID: "t1", QueuedTaskIDs: []string{"t2"}},
		ErrorMessage{ChatID: "c1", Content: "boom"},
	}

	for _, msg := range messages {
		t.Run(msg.MessageType(), func(t *testing.T) {
			data, err := EncodeServerMessage(msg)
			require.NoError(t, err)
			decoded, err := DecodeServerMessage(data)
			require.NoError(t, err)
			assert.Equal(t, msg.MessageType(), decoded.MessageType())
		})
	}
}

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"subscribe", `{"type":"subscribe","chatId":"c1","token":"jwt"}`, TypeSubscribe, false},
		{"unsubscribe", `{"type":"unsubscribe","chatId":"c1"}`, TypeUnsubscribe, false},
		{"chat", `{"type":"chat","chatId":"c1","content":"hi","newConversation":true}`, TypeChat, false},
		{"stop", `{"type":"stop","chatId":"c1","taskId":"t1"}`, TypeStop, false},
		{"ping", `{"type":"ping"}`, TypePing, false},
		{"unknown type", `{"type":"upgrade_to_admin"}`, "", true},
		{"missing type", `{"chatId":"c1"}`, "", true},
		{"malformed json", `{"type":`, "", true},
		{"server message inbound", `{"type":"task_done","chatId":"c1"}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeClientMessage([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.MessageType())
		})
	}
}

func TestDecodeChatRequestFields(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"chat","chatId":"c9","content":"run it","model":"fast","newConversation":true}`))
	require.NoError(t, err)

	chat, ok := msg.(ChatRequestMessage)
	require.True(t, ok)
	assert.Equal(t, "c9", chat.ChatID)
	assert.Equal(t, "run it", chat.Content)
	assert.Equal(t, "fast", chat.Model)
	assert.True(t, chat.NewConversation)
}

func TestDecodeServerMessageRejectsUnknown(t *testing.T) {
	_, err := DecodeServerMessage([]byte(`{"type":"mystery"}`))
	assert.Error(t, err)
}
