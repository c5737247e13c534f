// Package domain defines the core domain models for the Metra backend.
package domain

import (
	"encoding/json"
	"time"
)

// MessageRole is the author of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// User is a registered account.
type User struct {
	UserID         string     `json:"user_id"`
	Email          string     `json:"email"`
	FullName       string     `json:"full_name,omitempty"`
	HashedPassword string     `json:"-"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
}

// Conversation is a schema-building dialogue owned by one user.
// It starts open and flips to completed exactly once, when the assistant
// has produced a valid task schema.
type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title,omitempty"`
	IsCompleted    bool      `json:"is_completed"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ConversationSummary is a list-view row with its message count.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title,omitempty"`
	IsCompleted    bool      `json:"is_completed"`
	CreatedAt      time.Time `json:"created_at"`
	MessageCount   int       `json:"message_count"`
}

// Message is one entry in a conversation. Messages are never mutated
// after creation; ordering by CreatedAt (MessageID as tie-break) is the
// canonical dialogue context.
type Message struct {
	MessageID      string      `json:"message_id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
}

// TaskDefinition is the structured artifact distilled from a completed
// conversation. At most one exists per conversation.
type TaskDefinition struct {
	TaskID            string          `json:"task_id"`
	ConversationID    string          `json:"conversation_id"`
	UserID            string          `json:"user_id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Schema            json.RawMessage `json:"json_schema"`
	RecommendedModels json.RawMessage `json:"recommended_models,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CreateConversationRequest is the body for POST /conversations.
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// UpdateConversationRequest is the body for PATCH /conversations/:id.
// Nil fields are left untouched.
type UpdateConversationRequest struct {
	Title       *string `json:"title,omitempty"`
	IsCompleted *bool   `json:"is_completed,omitempty"`
}

// SendMessageRequest is the body for both turn endpoints.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// CreateTaskDefinitionRequest is the body for POST /task-definitions.
// When Schema is omitted the schema is extracted from the latest
// assistant message of the conversation.
type CreateTaskDefinitionRequest struct {
	ConversationID    string          `json:"conversation_id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Schema            json.RawMessage `json:"json_schema,omitempty"`
	RecommendedModels json.RawMessage `json:"recommended_models,omitempty"`
}

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is returned by POST /auth/login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ModelRecommendation is one ranked hub model returned by the
// recommendations endpoint.
type ModelRecommendation struct {
	ModelID     string   `json:"model_id"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Downloads   int      `json:"downloads"`
	Likes       int      `json:"likes"`
}
