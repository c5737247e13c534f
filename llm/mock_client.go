package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockClient is a mock implementation of ChatClient for local
// development and tests.
type MockClient struct{}

// NewMockClient creates a new mock chat client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements ChatClient interface.
var _ ChatClient = (*MockClient)(nil)

const mockSchemaReply = "I now have enough information to create your data schema. " +
	"Here's what I've designed based on our discussion:\n\n" +
	"```json\n{\"task_type\": \"classification\", \"input\": {\"text\": \"string\"}, \"output\": {\"label\": \"string\"}}\n```"

// CreateChatCompletion returns a canned response.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	content := m.generateMockResponse(req)
	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{
				Index: 0,
				Message: &ChatMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
	}, nil
}

// CreateChatCompletionStream simulates a streaming response by emitting
// the canned content in small chunks.
func (m *MockClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) error {
	content := m.generateMockResponse(req)
	for _, chunk := range splitIntoChunks(content, 16) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := callback(chunk); err != nil {
			return err
		}
	}
	return nil
}

// generateMockResponse picks a reply from the last user message. Asking
// the assistant to finalize yields a full schema reply so the completion
// path is exercisable without a real backend.
func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) string {
	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}

	lower := strings.ToLower(lastUserMessage)
	if strings.Contains(lower, "finalize") || strings.Contains(lower, "generate the schema") {
		return mockSchemaReply
	}
	if lastUserMessage == "" {
		return "[MOCK] Tell me about the task you want to build."
	}
	return fmt.Sprintf("[MOCK] Understood: %q. What inputs and outputs should the model handle?", truncate(lastUserMessage, 100))
}

// splitIntoChunks splits a string into chunks of approximately the given size.
func splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return []string{""}
	}

	var chunks []string
	for i := 0; i < len(s); i += chunkSize {
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
