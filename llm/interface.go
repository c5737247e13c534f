// Package llm provides an abstraction over OpenAI-compatible chat APIs.
package llm

import "context"

// ChatClient defines the interface for the generative backend.
type ChatClient interface {
	// CreateChatCompletion sends a chat completion request (non-streaming).
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// CreateChatCompletionStream sends a streaming chat completion request.
	// The callback is called for each content delta received, in arrival
	// order; a callback error aborts the stream.
	CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) error
}

// Ensure Client implements ChatClient interface.
var _ ChatClient = (*Client)(nil)
