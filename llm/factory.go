package llm

import (
	"log"
	"os"
	"time"
)

const (
	// EnvMetraMode is the environment variable name for mode selection.
	EnvMetraMode = "METRA_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewChatClient creates a chat client based on the METRA_MODE environment
// variable. If METRA_MODE=MOCK, returns a MockClient; otherwise returns a
// real Client.
func NewChatClient(baseURL, apiKey string, timeout time.Duration) ChatClient {
	if os.Getenv(EnvMetraMode) == ModeMock {
		log.Println("METRA_MODE=MOCK detected, using mock chat client")
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
