package chatclient

import (
	"encoding/json"

	"ai-chat-gateway-be/internal/protocol"
	"ai-chat-gateway-be/pkg/store"
)

// toolEntry tracks one tool invocation and its eventual result, in call order.
type toolEntry struct {
	id      string
	name    string
	input   json.RawMessage
	result  json.RawMessage
	isError bool
	hasUse  bool
	hasRes  bool
}

// assembler accumulates streamed deltas for one in-flight assistant message
// and rebuilds the full part list on every delta. The rebuilt message replaces
// the previous one wholesale, which keeps rendering idempotent.
type assembler struct {
	reasoningText  string
	reasoningState string
	text           string
	tools          []*toolEntry
	toolIndex      map[string]*toolEntry
}

func newAssembler() *assembler {
	return &assembler{toolIndex: make(map[string]*toolEntry)}
}

func (a *assembler) empty() bool {
	return a.reasoningText == "" && a.text == "" && len(a.tools) == 0
}

func (a *assembler) addText(delta string) {
	a.text += delta
}

func (a *assembler) addReasoning(delta, state string) {
	a.reasoningText += delta
	if state != "" {
		a.reasoningState = state
	} else if a.reasoningState == "" {
		a.reasoningState = store.ReasoningStreaming
	}
}

func (a *assembler) addToolUse(msg protocol.ToolUseMessage) {
	entry, ok := a.toolIndex[msg.ToolID]
	if !ok {
		entry = &toolEntry{id: msg.ToolID}
		a.toolIndex[msg.ToolID] = entry
		a.tools = append(a.tools, entry)
	}
	entry.name = msg.ToolName
	entry.input = msg.ToolInput
	entry.hasUse = true
}

func (a *assembler) addToolResult(msg protocol.ToolResultMessage) {
	entry, ok := a.toolIndex[msg.ToolID]
	if !ok {
		// Result for a tool we never saw the call for; keep it anyway so the
		// transcript is not silently lossy.
		entry = &toolEntry{id: msg.ToolID}
		a.toolIndex[msg.ToolID] = entry
		a.tools = append(a.tools, entry)
	}
	entry.result = msg.ToolResult
	entry.isError = msg.IsError
	entry.hasRes = true
}

// build produces the full assistant message: reasoning first, then tool
// use/result pairs in call order, then text.
func (a *assembler) build(messageID string) store.ChatMessage {
	var parts []store.MessagePart

	if a.reasoningText != "" {
		state := a.reasoningState
		if state == "" {
			state = store.ReasoningStreaming
		}
		parts = append(parts, store.ReasoningPart{Text: a.reasoningText, State: state})
	}

	for _, tool := range a.tools {
		if tool.hasUse {
			parts = append(parts, store.ToolUsePart{
				ToolName:   tool.name,
				ToolCallID: tool.id,
				Args:       tool.input,
			})
		}
		if tool.hasRes {
			parts = append(parts, store.ToolResultPart{
				ToolCallID: tool.id,
				Result:     tool.result,
				IsError:    tool.isError,
			})
		}
	}

	if a.text != "" {
		parts = append(parts, store.TextPart{Text: a.text})
	}

	return store.ChatMessage{
		ID:    messageID,
		Role:  store.RoleAssistant,
		Parts: parts,
	}
}
