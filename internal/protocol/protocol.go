package protocol

import (
	"encoding/json"
	"fmt"
)

// The wire protocol is a pair of closed message sets discriminated by a
// "type" field. ClientMessage flows client -> server, ServerMessage flows
// server -> client. Both sides reject unknown types instead of guessing.

// Inbound message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeChat        = "chat"
	TypeStop        = "stop"
	TypePing        = "ping"
)

// Outbound message types.
const (
	TypePong        = "pong"
	TypeSessionInit = "session_init"
	TypeText        = "text"
	TypeReasoning   = "reasoning"
	TypeToolUse     = "tool_use"
	TypeToolResult  = "tool_result"
	TypeTitle       = "title"
	TypeTaskQueued  = "task_queued"
	TypeTaskStarted = "task_started"
	TypeTaskDone    = "task_done"
	TypeTaskStopped = "task_stopped"
	TypeQueueStatus = "queue_status"
	TypeError       = "error"
)

// ClientMessage is the closed set of inbound messages.
type ClientMessage interface {
	clientMessage()
	MessageType() string
}

type SubscribeMessage struct {
	ChatID string `json:"chatId"`
	Token  string `json:"token,omitempty"`
}

type UnsubscribeMessage struct {
	ChatID string `json:"chatId"`
}

type ChatRequestMessage struct {
	ChatID          string `json:"chatId"`
	Content         string `json:"content"`
	Model           string `json:"model,omitempty"`
	NewConversation bool   `json:"newConversation,omitempty"`
}

type StopMessage struct {
	ChatID string `json:"chatId"`
	TaskID string `json:"taskId,omitempty"`
}

type PingMessage struct{}

func (SubscribeMessage) clientMessage()   {}
func (UnsubscribeMessage) clientMessage() {}
func (ChatRequestMessage) clientMessage() {}
func (StopMessage) clientMessage()        {}
func (PingMessage) clientMessage()        {}

func (SubscribeMessage) MessageType() string   { return TypeSubscribe }
func (UnsubscribeMessage) MessageType() string { return TypeUnsubscribe }
func (ChatRequestMessage) MessageType() string { return TypeChat }
func (StopMessage) MessageType() string        { return TypeStop }
func (PingMessage) MessageType() string        { return TypePing }

// ServerMessage is the closed set of outbound messages.
type ServerMessage interface {
	serverMessage()
	MessageType() string
}

type PongMessage struct{}

type SessionInitMessage struct {
	ChatID    string `json:"chatId"`
	SessionID string `json:"sessionId"`
}

type TextMessage struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

type ReasoningMessage struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
	State   string `json:"state,omitempty"` // "streaming" | "done"
}

type ToolUseMessage struct {
	ChatID    string          `json:"chatId"`
	ToolName  string          `json:"toolName"`
	ToolID    string          `json:"toolId"`
	ToolInput json.RawMessage `json:"toolInput"`
}

type ToolResultMessage struct {
	ChatID     string          `json:"chatId"`
	ToolID     string          `json:"toolId"`
	ToolResult json.RawMessage `json:"toolResult"`
	IsError    bool            `json:"isError,omitempty"`
}

type TitleMessage struct {
	ChatID         string `json:"chatId"`
	SuggestedTitle string `json:"suggestedTitle"`
}

type TaskQueuedMessage struct {
	ChatID      string `json:"chatId"`
	TaskID      string `json:"taskId"`
	Position    int    `json:"position"`
	QueueLength int    `json:"queueLength"`
}

type TaskStartedMessage struct {
	ChatID    string `json:"chatId"`
	TaskID    string `json:"taskId"`
	SessionID string `json:"sessionId,omitempty"`
}

type TaskDoneMessage struct {
	ChatID    string `json:"chatId"`
	TaskID    string `json:"taskId"`
	MessageID string `json:"messageId"`
}

type TaskStoppedMessage struct {
	ChatID        string `json:"chatId"`
	TaskID        string `json:"taskId"`
	PartialResult string `json:"partialResult,omitempty"`
}

type QueueStatusMessage struct {
	ChatID        string   `json:"chatId"`
	RunningTaskID string   `json:"runningTaskId,omitempty"`
	QueuedTaskIDs []string `json:"queuedTaskIds"`
}

type ErrorMessage struct {
	ChatID  string `json:"chatId,omitempty"`
	Content string `json:"content"`
}

func (PongMessage) serverMessage()        {}
func (SessionInitMessage) serverMessage() {}
func (TextMessage) serverMessage()        {}
func (ReasoningMessage) serverMessage()   {}
func (ToolUseMessage) serverMessage()     {}
func (ToolResultMessage) serverMessage()  {}
func (TitleMessage) serverMessage()       {}
func (TaskQueuedMessage) serverMessage()  {}
func (TaskStartedMessage) serverMessage() {}
func (TaskDoneMessage) serverMessage()    {}
func (TaskStoppedMessage) serverMessage() {}
func (QueueStatusMessage) serverMessage() {}
func (ErrorMessage) serverMessage()       {}

func (PongMessage) MessageType() string        { return TypePong }
func (SessionInitMessage) MessageType() string { return TypeSessionInit }
func (TextMessage) MessageType() string        { return TypeText }
func (ReasoningMessage) MessageType() string   { return TypeReasoning }
func (ToolUseMessage) MessageType() string     { return TypeToolUse }
func (ToolResultMessage) MessageType() string  { return TypeToolResult }
func (TitleMessage) MessageType() string       { return TypeTitle }
func (TaskQueuedMessage) MessageType() string  { return TypeTaskQueued }
func (TaskStartedMessage) MessageType() string { return TypeTaskStarted }
func (TaskDoneMessage) MessageType() string    { return TypeTaskDone }
func (TaskStoppedMessage) MessageType() string { return TypeTaskStopped }
func (QueueStatusMessage) MessageType() string { return TypeQueueStatus }
func (ErrorMessage) MessageType() string       { return TypeError }

type typeProbe struct {
	Type string `json:"type"`
}

// EncodeServerMessage serializes m with its "type" tag spliced in.
func EncodeServerMessage(m ServerMessage) ([]byte, error) {
	return encodeTagged(m.MessageType(), m)
}

// EncodeClientMessage serializes m with its "type" tag spliced in.
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	return encodeTagged(m.MessageType(), m)
}

func encodeTagged(typ string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(typ)
	return json.Marshal(fields)
}

// DecodeClientMessage parses an inbound frame. Unknown types are protocol
// errors: the caller answers with a targeted error message, session state
// untouched.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var probe typeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	switch probe.Type {
	case TypeSubscribe:
		var m SubscribeMessage
		return m, json.Unmarshal(data, &m)
	case TypeUnsubscribe:
		var m UnsubscribeMessage
		return m, json.Unmarshal(data, &m)
	case TypeChat:
		var m ChatRequestMessage
		return m, json.Unmarshal(data, &m)
	case TypeStop:
		var m StopMessage
		return m, json.Unmarshal(data, &m)
	case TypePing:
		return PingMessage{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", probe.Type)
	}
}

// DecodeServerMessage parses an outbound frame on the consuming side.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var probe typeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	switch probe.Type {
	case TypePong:
		return PongMessage{}, nil
	case TypeSessionInit:
		var m SessionInitMessage
		return m, json.Unmarshal(data, &m)
	case TypeText:
		var m TextMessage
		return m, json.Unmarshal(data, &m)
	case TypeReasoning:
		var m ReasoningMessage
		return m, json.Unmarshal(data, &m)
	case TypeToolUse:
		var m ToolUseMessage
		return m, json.Unmarshal(data, &m)
	case TypeToolResult:
		var m ToolResultMessage
		return m, json.Unmarshal(data, &m)
	case TypeTitle:
		var m TitleMessage
		return m, json.Unmarshal(data, &m)
	case TypeTaskQueued:
		var m TaskQueuedMessage
		return m, json.Unmarshal(data, &m)
	case TypeTaskStarted:
		var m TaskStartedMessage
		return m, json.Unmarshal(data, &m)
	case TypeTaskDone:
		var m TaskDoneMessage
		return m, json.Unmarshal(data, &m)
	case TypeTaskStopped:
		var m TaskStoppedMessage
		return m, json.Unmarshal(data, &m)
	case TypeQueueStatus:
		var m QueueStatusMessage
		return m, json.Unmarshal(data, &m)
	case TypeError:
		var m ErrorMessage
		return m, json.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("unknown message type %q", probe.Type)
	}
}
