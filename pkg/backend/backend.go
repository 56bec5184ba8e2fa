// Package backend defines the boundary to the generation service and the
// provider clients that implement it. The engine never talks to a provider
// SDK directly; it consumes the three capabilities here.
package backend

import "context"

// Reply is a generation result.
type Reply struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Backend is the capability surface consumed by the dispatch engine. All
// three calls are long-latency and fallible; callers decide whether to run
// them synchronously or on their own concurrency primitive.
type Backend interface {
	// Execute runs a task and returns the produced answer.
	Execute(ctx context.Context, taskText string) (*Reply, error)

	// Evaluate asks the backend to judge an answer against its task,
	// returning the raw judgment text for the caller to parse.
	Evaluate(ctx context.Context, taskText, answer string) (string, error)

	// Reframe asks the backend to restate a task more specifically given
	// the issues found with a prior answer.
	Reframe(ctx context.Context, taskText string, issues []string) (string, error)
}

// Client is a raw completion transport for one provider.
type Client interface {
	// Complete sends a prompt and returns the model's text.
	Complete(ctx context.Context, prompt string) (string, error)

	// Name returns the client's identifier.
	Name() string
}
