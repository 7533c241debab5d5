package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPEngine talks to an agent runner over HTTP: one POST per run, events
// streamed back as newline-delimited JSON.
type HTTPEngine struct {
	BaseURL string
	Client  *http.Client
}

var _ Engine = &HTTPEngine{}

func NewHTTPEngine(baseURL string) *HTTPEngine {
	if baseURL == "" {
		baseURL = "http://localhost:8700"
	}
	return &HTTPEngine{
		BaseURL: baseURL,
		Client: &http.Client{
			// No overall timeout: runs stream for minutes. Cancellation comes
			// from the request context.
			Timeout: 0,
		},
	}
}

type runRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// wireEvent is the NDJSON envelope the runner emits per line.
type wireEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Text      string          `json:"text,omitempty"`
	ToolID    string          `json:"tool_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Partial   string          `json:"partial_json,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Message   string          `json:"message,omitempty"`
}

func (e *HTTPEngine) Run(ctx context.Context, prompt string, opts RunOptions) (Stream, error) {
	payload, err := json.Marshal(runRequest{
		Prompt:    prompt,
		SessionID: opts.ResumeToken,
		Model:     opts.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal run request: %w", err)
	}

	url := e.BaseURL + "/v1/runs"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent run request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("agent runner error (status %d): %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	// Tool results can carry large payloads in one line.
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	return &httpStream{body: resp.Body, scanner: scanner}, nil
}

type httpStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *httpStream) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read agent stream: %w", err)
			}
			return nil, io.EOF
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var we wireEvent
		if err := json.Unmarshal(line, &we); err != nil {
			return nil, fmt.Errorf("decode agent event: %w", err)
		}

		switch we.Type {
		case "init":
			return InitEvent{SessionID: we.SessionID}, nil
		case "text":
			return TextEvent{Text: we.Text}, nil
		case "thinking":
			return ThinkingEvent{Text: we.Text}, nil
		case "tool_use":
			return ToolUseEvent{ID: we.ToolID, Name: we.ToolName, Input: we.Input}, nil
		case "tool_use_start":
			return ToolUseStartEvent{ID: we.ToolID, Name: we.ToolName}, nil
		case "tool_input_delta":
			return ToolInputDeltaEvent{PartialJSON: we.Partial}, nil
		case "tool_use_stop":
			return ToolUseStopEvent{}, nil
		case "tool_result":
			return ToolResultEvent{ToolID: we.ToolID, Content: we.Content, IsError: we.IsError}, nil
		case "result":
			return ResultEvent{IsError: we.IsError, Content: we.Message}, nil
		default:
			// Skip event kinds this gateway does not understand; the runner
			// may grow new diagnostics without breaking us.
			continue
		}
	}
}

func (s *httpStream) Close() error {
	return s.body.Close()
}

// eventSliceStream replays a fixed event sequence. Used by tests.
type eventSliceStream struct {
	events []Event
	pos    int
}

// NewSliceStream returns a Stream that yields the given events in order.
func NewSliceStream(events []Event) Stream {
	return &eventSliceStream{events: events}
}

func (s *eventSliceStream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *eventSliceStream) Close() error { return nil }
