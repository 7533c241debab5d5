// Package store holds the transport-agnostic chat domain types shared by the
// server orchestration layer, the persistence layer, and the consuming client.
package store

import (
	"encoding/json"
	"fmt"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Reasoning part states.
const (
	ReasoningStreaming = "streaming"
	ReasoningDone      = "done"
)

// ChatMessage is one rendered message. An assistant message under
// construction accumulates parts in a fixed order: reasoning first, then
// tool-use/tool-result pairs in call order, then the final text.
type ChatMessage struct {
	ID    string        `json:"id"`
	Role  string        `json:"role"`
	Parts []MessagePart `json:"parts"`
}

// MessagePart is the closed set of message content variants.
type MessagePart interface {
	messagePart()
	PartType() string
}

type TextPart struct {
	Text string `json:"text"`
}

type ReasoningPart struct {
	Text  string `json:"text"`
	State string `json:"state"` // "streaming" | "done"
}

type ToolUsePart struct {
	ToolName   string          `json:"toolName"`
	ToolCallID string          `json:"toolCallId"`
	Args       json.RawMessage `json:"args"`
}

type ToolResultPart struct {
	ToolCallID string          `json:"toolCallId"`
	Result     json.RawMessage `json:"result"`
	IsError    bool            `json:"isError,omitempty"`
}

func (TextPart) messagePart()       {}
func (ReasoningPart) messagePart()  {}
func (ToolUsePart) messagePart()    {}
func (ToolResultPart) messagePart() {}

func (TextPart) PartType() string       { return "text" }
func (ReasoningPart) PartType() string  { return "reasoning" }
func (ToolUsePart) PartType() string    { return "tool_use" }
func (ToolResultPart) PartType() string { return "tool_result" }

// taggedPart is the persisted JSON shape of a part.
type taggedPart struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	State      string          `json:"state,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

// MarshalParts serializes parts with type tags, suitable for a JSONB column.
func MarshalParts(parts []MessagePart) ([]byte, error) {
	tagged := make([]taggedPart, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case TextPart:
			tagged = append(tagged, taggedPart{Type: v.PartType(), Text: v.Text})
		case ReasoningPart:
			tagged = append(tagged, taggedPart{Type: v.PartType(), Text: v.Text, State: v.State})
		case ToolUsePart:
			tagged = append(tagged, taggedPart{Type: v.PartType(), ToolName: v.ToolName, ToolCallID: v.ToolCallID, Args: v.Args})
		case ToolResultPart:
			tagged = append(tagged, taggedPart{Type: v.PartType(), ToolCallID: v.ToolCallID, Result: v.Result, IsError: v.IsError})
		default:
			return nil, fmt.Errorf("unknown message part %T", p)
		}
	}
	return json.Marshal(tagged)
}

// UnmarshalParts is the inverse of MarshalParts. Unknown part types are
// rejected so schema drift surfaces loudly.
func UnmarshalParts(data []byte) ([]MessagePart, error) {
	var tagged []taggedPart
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, err
	}
	parts := make([]MessagePart, 0, len(tagged))
	for _, tp := range tagged {
		switch tp.Type {
		case "text":
			parts = append(parts, TextPart{Text: tp.Text})
		case "reasoning":
			parts = append(parts, ReasoningPart{Text: tp.Text, State: tp.State})
		case "tool_use":
			parts = append(parts, ToolUsePart{ToolName: tp.ToolName, ToolCallID: tp.ToolCallID, Args: tp.Args})
		case "tool_result":
			parts = append(parts, ToolResultPart{ToolCallID: tp.ToolCallID, Result: tp.Result, IsError: tp.IsError})
		default:
			return nil, fmt.Errorf("unknown message part type %q", tp.Type)
		}
	}
	return parts, nil
}
