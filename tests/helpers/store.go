// Package helpers provides shared test fixtures.
package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/metra-ai/metra-server/domain"
	"github.com/metra-ai/metra-server/store"
)

// NewTestSQLiteStore creates an in-memory store torn down with the test.
func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// SeedUser inserts a user and returns its ID.
func SeedUser(t *testing.T, s *store.SQLiteStore, userID, email string) string {
	t.Helper()

	user := &domain.User{
		UserID:         userID,
		Email:          email,
		HashedPassword: "x",
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return userID
}

// SeedConversation inserts an open conversation owned by userID.
func SeedConversation(t *testing.T, s *store.SQLiteStore, conversationID, userID string) *domain.Conversation {
	t.Helper()

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ConversationID: conversationID,
		UserID:         userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
	return conv
}
