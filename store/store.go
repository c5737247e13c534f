// Package store defines the storage interface and implementations.
package store

import (
	"context"
	"time"

	"github.com/metra-ai/metra-server/domain"
)

// Store defines the interface for data persistence.
//
// Getters scoped by userID return (nil, nil) when the entity is absent or
// owned by someone else; mutators return domain.ErrNotFound in that case.
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error

	// Conversation operations
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	GetConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]domain.ConversationSummary, error)
	UpdateConversation(ctx context.Context, conversationID, userID string, upd domain.UpdateConversationRequest) (*domain.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID, userID string) error

	// Message operations
	CreateMessage(ctx context.Context, msg *domain.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	LatestAssistantMessage(ctx context.Context, conversationID string) (*domain.Message, error)

	// FinishTurn commits an assistant message together with the
	// conversation-state transition it implies, as one unit. A non-empty
	// title is applied only alongside the completed flag.
	FinishTurn(ctx context.Context, msg *domain.Message, completed bool, title string) error

	// Task definition operations
	CreateTaskDefinition(ctx context.Context, task *domain.TaskDefinition) error
	GetTaskDefinition(ctx context.Context, taskID, userID string) (*domain.TaskDefinition, error)
	ListTaskDefinitions(ctx context.Context, userID string, limit, offset int) ([]domain.TaskDefinition, error)
	DeleteTaskDefinition(ctx context.Context, taskID, userID string) error

	// Lifecycle
	Close() error
}
