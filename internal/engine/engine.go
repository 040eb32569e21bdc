package engine

import "context"

// Engine is a local chat model backend. Plan extraction and reply narration
// go through it.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
