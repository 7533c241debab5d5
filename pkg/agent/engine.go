package agent

import (
	"context"
)

// Stream is one run's ordered event sequence. Next returns io.EOF when the
// run is complete; any other error means the stream broke mid-run.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// RunOptions tunes a single agent invocation.
type RunOptions struct {
	// ResumeToken continues a prior engine session. Empty starts fresh.
	ResumeToken string
	// Model overrides the engine's default model when non-empty.
	Model string
}

// Engine executes agent runs. Implementations must not retain the prompt or
// options after Run returns.
type Engine interface {
	Run(ctx context.Context, prompt string, opts RunOptions) (Stream, error)
}
