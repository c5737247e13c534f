package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/metra-ai/metra-server/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *SQLiteStore, userID string) {
	t.Helper()
	err := s.CreateUser(context.Background(), &domain.User{
		UserID:         userID,
		Email:          userID + "@example.com",
		HashedPassword: "x",
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
}

func seedConversation(t *testing.T, s *SQLiteStore, conversationID, userID string) {
	t.Helper()
	now := time.Now().UTC()
	err := s.CreateConversation(context.Background(), &domain.Conversation{
		ConversationID: conversationID,
		UserID:         userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "u1")

	err := s.CreateUser(context.Background(), &domain.User{
		UserID:         "u2",
		Email:          "u1@example.com",
		HashedPassword: "x",
		CreatedAt:      time.Now().UTC(),
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestConversationOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedUser(t, s, "u2")
	seedConversation(t, s, "c1", "u1")

	conv, err := s.GetConversation(ctx, "c1", "u1")
	if err != nil || conv == nil {
		t.Fatalf("owner should see the conversation: %v, %v", conv, err)
	}

	conv, err = s.GetConversation(ctx, "c1", "u2")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv != nil {
		t.Fatalf("non-owner must not see the conversation")
	}
}

func TestListMessagesOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedConversation(t, s, "c1", "u1")

	// Identical timestamps; seq must still preserve append order.
	at := time.Now().UTC()
	for i, id := range []string{"m1", "m2", "m3"} {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		err := s.CreateMessage(ctx, &domain.Message{
			MessageID:      id,
			ConversationID: "c1",
			Role:           role,
			Content:        id,
			CreatedAt:      at,
		})
		if err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	messages, err := s.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if messages[i].MessageID != want {
			t.Fatalf("position %d: got %s, want %s", i, messages[i].MessageID, want)
		}
	}
	for i := 1; i < len(messages); i++ {
		if messages[i].CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Fatalf("creation times must be non-decreasing")
		}
	}
}

func TestFinishTurnCommitsMessageAndTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedConversation(t, s, "c1", "u1")

	msg := &domain.Message{
		MessageID:      "m1",
		ConversationID: "c1",
		Role:           domain.RoleAssistant,
		Content:        "done",
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.FinishTurn(ctx, msg, true, "Classify reviews"); err != nil {
		t.Fatalf("FinishTurn failed: %v", err)
	}

	conv, err := s.GetConversation(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if !conv.IsCompleted || conv.Title != "Classify reviews" {
		t.Fatalf("transition not applied: %+v", conv)
	}

	messages, _ := s.ListMessages(ctx, "c1")
	if len(messages) != 1 || messages[0].Content != "done" {
		t.Fatalf("assistant message not committed: %+v", messages)
	}
}

func TestFinishTurnWithoutCompletionLeavesStateOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedConversation(t, s, "c1", "u1")

	msg := &domain.Message{
		MessageID:      "m1",
		ConversationID: "c1",
		Role:           domain.RoleAssistant,
		Content:        "tell me more",
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.FinishTurn(ctx, msg, false, ""); err != nil {
		t.Fatalf("FinishTurn failed: %v", err)
	}

	conv, _ := s.GetConversation(ctx, "c1", "u1")
	if conv.IsCompleted || conv.Title != "" {
		t.Fatalf("unexpected state: %+v", conv)
	}
}

func TestLatestAssistantMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedConversation(t, s, "c1", "u1")

	last, err := s.LatestAssistantMessage(ctx, "c1")
	if err != nil {
		t.Fatalf("LatestAssistantMessage failed: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil on empty conversation")
	}

	at := time.Now().UTC()
	for _, m := range []struct {
		id   string
		role domain.MessageRole
	}{
		{"m1", domain.RoleUser},
		{"m2", domain.RoleAssistant},
		{"m3", domain.RoleUser},
		{"m4", domain.RoleAssistant},
	} {
		if err := s.CreateMessage(ctx, &domain.Message{
			MessageID: m.id, ConversationID: "c1", Role: m.role, Content: m.id, CreatedAt: at,
		}); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	last, err = s.LatestAssistantMessage(ctx, "c1")
	if err != nil {
		t.Fatalf("LatestAssistantMessage failed: %v", err)
	}
	if last == nil || last.MessageID != "m4" {
		t.Fatalf("unexpected latest assistant message: %+v", last)
	}
}

func TestCreateTaskDefinitionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedConversation(t, s, "c1", "u1")

	task := &domain.TaskDefinition{
		TaskID:         "t1",
		ConversationID: "c1",
		UserID:         "u1",
		Name:           "sentiment",
		Schema:         json.RawMessage(`{"task_type":"classification"}`),
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.CreateTaskDefinition(ctx, task); err != nil {
		t.Fatalf("CreateTaskDefinition failed: %v", err)
	}

	// Creation marks the conversation completed.
	conv, _ := s.GetConversation(ctx, "c1", "u1")
	if !conv.IsCompleted {
		t.Fatalf("conversation should be completed after task creation")
	}

	dup := *task
	dup.TaskID = "t2"
	err := s.CreateTaskDefinition(ctx, &dup)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// First task is untouched.
	got, err := s.GetTaskDefinition(ctx, "t1", "u1")
	if err != nil || got == nil {
		t.Fatalf("GetTaskDefinition failed: %v, %v", got, err)
	}
	if string(got.Schema) != `{"task_type":"classification"}` {
		t.Fatalf("schema changed: %s", got.Schema)
	}
}

func TestDeleteConversationCascadesToMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedConversation(t, s, "c1", "u1")

	if err := s.CreateMessage(ctx, &domain.Message{
		MessageID: "m1", ConversationID: "c1", Role: domain.RoleUser, Content: "hi", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	if err := s.DeleteConversation(ctx, "c1", "u1"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	messages, err := s.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("messages should cascade on delete, got %d", len(messages))
	}

	if err := s.DeleteConversation(ctx, "c1", "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListConversationsWithCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedConversation(t, s, "c1", "u1")
	seedConversation(t, s, "c2", "u1")

	for _, id := range []string{"m1", "m2"} {
		if err := s.CreateMessage(ctx, &domain.Message{
			MessageID: id, ConversationID: "c1", Role: domain.RoleUser, Content: id, CreatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	summaries, err := s.ListConversations(ctx, "u1", 20, 0)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(summaries))
	}

	counts := map[string]int{}
	for _, sum := range summaries {
		counts[sum.ConversationID] = sum.MessageCount
	}
	if counts["c1"] != 2 || counts["c2"] != 0 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestInMemoryStoreConcurrentAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		seedConversation(t, s, id, "u1")
	}

	// Pooled connections against :memory: would each see a fresh empty
	// database; every goroutine must hit the same one.
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		wg.Add(1)
		go func(conversationID string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				err := s.CreateMessage(ctx, &domain.Message{
					MessageID:      fmt.Sprintf("%s-m%d", conversationID, i),
					ConversationID: conversationID,
					Role:           domain.RoleUser,
					Content:        "hi",
					CreatedAt:      time.Now().UTC(),
				})
				if err != nil {
					errs <- err
					return
				}
				if _, err := s.ListMessages(ctx, conversationID); err != nil {
					errs <- err
					return
				}
			}
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent access failed: %v", err)
	}

	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		messages, err := s.ListMessages(ctx, id)
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(messages) != 10 {
			t.Fatalf("conversation %s: expected 10 messages, got %d", id, len(messages))
		}
	}
}

func TestUpdateConversationCompletedIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1")
	seedConversation(t, s, "c1", "u1")

	done := true
	if _, err := s.UpdateConversation(ctx, "c1", "u1", domain.UpdateConversationRequest{IsCompleted: &done}); err != nil {
		t.Fatalf("UpdateConversation failed: %v", err)
	}

	// Attempting to clear the flag is a no-op.
	notDone := false
	conv, err := s.UpdateConversation(ctx, "c1", "u1", domain.UpdateConversationRequest{IsCompleted: &notDone})
	if err != nil {
		t.Fatalf("UpdateConversation failed: %v", err)
	}
	if !conv.IsCompleted {
		t.Fatalf("completed flag must not revert")
	}
}
