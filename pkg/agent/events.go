// Package agent defines the contract to the opaque agent execution engine:
// one Run produces an ordered stream of structured events that the
// orchestration layer translates into the outward protocol.
package agent

import "encoding/json"

// Event is the closed set of events an agent run can produce.
type Event interface{ agentEvent() }

// InitEvent carries the engine's resumable session id. A run may emit it more
// than once; only the first occurrence is meaningful.
type InitEvent struct {
	SessionID string
}

// TextEvent is a fragment of assistant-visible output text.
type TextEvent struct {
	Text string
}

// ThinkingEvent is a fragment of assistant reasoning.
type ThinkingEvent struct {
	Text string
}

// ToolUseEvent is an atomic, fully formed tool invocation.
type ToolUseEvent struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolUseStartEvent opens an incrementally streamed tool invocation whose
// arguments arrive as ToolInputDeltaEvent fragments until ToolUseStopEvent.
type ToolUseStartEvent struct {
	ID   string
	Name string
}

// ToolInputDeltaEvent is a fragment of the pending tool call's JSON arguments.
type ToolInputDeltaEvent struct {
	PartialJSON string
}

// ToolUseStopEvent closes the pending incremental tool invocation.
type ToolUseStopEvent struct{}

// ToolResultEvent reports the outcome of a tool invocation.
type ToolResultEvent struct {
	ToolID  string
	Content json.RawMessage
	IsError bool
}

// ResultEvent is the engine's terminal verdict for a run.
type ResultEvent struct {
	IsError bool
	Content string
}

func (InitEvent) agentEvent()           {}
func (TextEvent) agentEvent()           {}
func (ThinkingEvent) agentEvent()       {}
func (ToolUseEvent) agentEvent()        {}
func (ToolUseStartEvent) agentEvent()   {}
func (ToolInputDeltaEvent) agentEvent() {}
func (ToolUseStopEvent) agentEvent()    {}
func (ToolResultEvent) agentEvent()     {}
func (ResultEvent) agentEvent()         {}
