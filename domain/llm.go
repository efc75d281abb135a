package domain

import "context"

// Llm abstracts any upstream chat completion provider.
type Llm interface {
	// Stream opens a completion and returns its fragments in upstream order.
	Stream(ctx context.Context, req CompletionRequest) (DeltaStream, error)
	// Model names the upstream model answering requests.
	Model() string
	// Close releases pooled connections.
	Close() error
}

type CompletionRequest struct {
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// DeltaStream yields text fragments until io.EOF.
type DeltaStream interface {
	Recv() (string, error)
	Close() error
}
