package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/metra-ai/metra-server/domain"
	"github.com/metra-ai/metra-server/llm"
	"github.com/metra-ai/metra-server/store"
	"github.com/metra-ai/metra-server/tests/helpers"
)

// scriptedClient plays back a fixed reply, optionally failing mid-stream.
type scriptedClient struct {
	chunks []string
	err    error
}

func (s *scriptedClient) CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.ChatCompletionResponse{
		Choices: []llm.Choice{
			{Message: &llm.ChatMessage{Role: "assistant", Content: strings.Join(s.chunks, "")}},
		},
	}, nil
}

func (s *scriptedClient) CreateChatCompletionStream(ctx context.Context, req *llm.ChatCompletionRequest, callback llm.StreamCallback) error {
	for _, chunk := range s.chunks {
		if err := callback(chunk); err != nil {
			return err
		}
	}
	return s.err
}

func newTestEngine(t *testing.T, client llm.ChatClient) (*Engine, *store.SQLiteStore) {
	t.Helper()
	st := helpers.NewTestSQLiteStore(t)
	helpers.SeedUser(t, st, "u1", "u1@example.com")
	helpers.SeedConversation(t, st, "c1", "u1")
	engine := NewEngine(st, client, NewMarkerClassifier(), "gpt-4")
	return engine, st
}

func TestStreamTurnSuccess(t *testing.T) {
	client := &scriptedClient{chunks: []string{"Could you tell me ", "more about the labels?"}}
	engine, st := newTestEngine(t, client)
	ctx := context.Background()

	var got []string
	msg, err := engine.StreamTurn(ctx, "u1", "c1", "Classify reviews as positive or negative", func(delta string) error {
		got = append(got, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamTurn failed: %v", err)
	}

	if len(got) != 2 || got[0] != "Could you tell me " {
		t.Fatalf("unexpected deltas: %v", got)
	}
	if msg.Role != domain.RoleAssistant || msg.Content != "Could you tell me more about the labels?" {
		t.Fatalf("unexpected assistant message: %+v", msg)
	}

	messages, err := st.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 2 || messages[0].Role != domain.RoleUser || messages[1].Role != domain.RoleAssistant {
		t.Fatalf("unexpected history: %+v", messages)
	}

	conv, err := st.GetConversation(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.IsCompleted {
		t.Fatalf("conversation should still be open")
	}
}

func TestStreamTurnSchemaCompletesAndDerivesTitle(t *testing.T) {
	client := &scriptedClient{chunks: []string{
		"I now have enough information to create your data schema. ",
		"Here's what I've designed based on our discussion:\n",
		"```json\n{\"task_type\":\"classification\"}\n```",
	}}
	engine, st := newTestEngine(t, client)
	ctx := context.Background()

	first := strings.Repeat("classify customer support tickets ", 3) // > 50 chars
	if _, err := engine.StreamTurn(ctx, "u1", "c1", first, func(string) error { return nil }); err != nil {
		t.Fatalf("StreamTurn failed: %v", err)
	}

	conv, err := st.GetConversation(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if !conv.IsCompleted {
		t.Fatalf("conversation should be completed")
	}
	want := string([]rune(first)[:50]) + "..."
	if conv.Title != want {
		t.Fatalf("unexpected title: %q, want %q", conv.Title, want)
	}

	last, err := st.LatestAssistantMessage(ctx, "c1")
	if err != nil || last == nil {
		t.Fatalf("LatestAssistantMessage failed: %v, %v", last, err)
	}
	schema, err := ExtractSchema(last.Content)
	if err != nil {
		t.Fatalf("ExtractSchema failed on persisted reply: %v", err)
	}
	if string(schema) != `{"task_type":"classification"}` {
		t.Fatalf("unexpected schema: %s", schema)
	}
}

func TestStreamTurnBackendFailureDiscardsPartial(t *testing.T) {
	client := &scriptedClient{
		chunks: []string{"chunk one ", "chunk two "},
		err:    errors.New("upstream reset"),
	}
	engine, st := newTestEngine(t, client)
	ctx := context.Background()

	var got []string
	_, err := engine.StreamTurn(ctx, "u1", "c1", "hello", func(delta string) error {
		got = append(got, delta)
		return nil
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(got) != 2 {
		t.Fatalf("expected the two chunks relayed before the failure, got %v", got)
	}

	// The user message survives; the partial assistant text does not.
	messages, err := st.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 1 || messages[0].Role != domain.RoleUser {
		t.Fatalf("unexpected history after failure: %+v", messages)
	}
}

func TestStreamTurnUnknownConversation(t *testing.T) {
	engine, _ := newTestEngine(t, &scriptedClient{chunks: []string{"hi"}})

	_, err := engine.StreamTurn(context.Background(), "u1", "missing", "hello", func(string) error { return nil })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Same for a conversation owned by someone else.
	_, err = engine.StreamTurn(context.Background(), "intruder", "c1", "hello", func(string) error { return nil })
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign conversation, got %v", err)
	}
}

func TestTurnSynchronous(t *testing.T) {
	client := &scriptedClient{chunks: []string{"What languages should it support?"}}
	engine, st := newTestEngine(t, client)
	ctx := context.Background()

	msg, err := engine.Turn(ctx, "u1", "c1", "Build a translation model")
	if err != nil {
		t.Fatalf("Turn failed: %v", err)
	}
	if msg.Role != domain.RoleAssistant || msg.Content == "" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	messages, _ := st.ListMessages(ctx, "c1")
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
}

func TestConcurrentTurnsSerialized(t *testing.T) {
	client := &scriptedClient{chunks: []string{"noted."}}
	engine, st := newTestEngine(t, client)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.StreamTurn(ctx, "u1", "c1", "hello", func(string) error { return nil }); err != nil {
				t.Errorf("StreamTurn failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// Serialized turns leave a strictly alternating history.
	messages, err := st.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	wantRoles := []domain.MessageRole{domain.RoleUser, domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant}
	for i, msg := range messages {
		if msg.Role != wantRoles[i] {
			t.Fatalf("turn interleaving detected: position %d is %s", i, msg.Role)
		}
	}
}

func TestConversationLocksEvictedAfterTurns(t *testing.T) {
	client := &scriptedClient{chunks: []string{"noted."}}
	engine, st := newTestEngine(t, client)
	ctx := context.Background()

	helpers.SeedConversation(t, st, "c2", "u1")

	var wg sync.WaitGroup
	for _, id := range []string{"c1", "c2", "c1", "c2"} {
		wg.Add(1)
		go func(conversationID string) {
			defer wg.Done()
			if _, err := engine.StreamTurn(ctx, "u1", conversationID, "hello", func(string) error { return nil }); err != nil {
				t.Errorf("StreamTurn failed: %v", err)
			}
		}(id)
	}
	wg.Wait()

	// Quiescent engine holds no lock entries.
	engine.mu.Lock()
	remaining := len(engine.locks)
	engine.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected lock registry to be empty, got %d entries", remaining)
	}
}

func TestCompletedConversationNeverReverts(t *testing.T) {
	client := &scriptedClient{chunks: []string{"just chatting, no schema here"}}
	engine, st := newTestEngine(t, client)
	ctx := context.Background()

	done := true
	if _, err := st.UpdateConversation(ctx, "c1", "u1", domain.UpdateConversationRequest{IsCompleted: &done}); err != nil {
		t.Fatalf("UpdateConversation failed: %v", err)
	}

	if _, err := engine.StreamTurn(ctx, "u1", "c1", "one more thing", func(string) error { return nil }); err != nil {
		t.Fatalf("StreamTurn failed: %v", err)
	}

	conv, _ := st.GetConversation(ctx, "c1", "u1")
	if !conv.IsCompleted {
		t.Fatalf("completed flag must not revert")
	}
}

func TestDeriveTitle(t *testing.T) {
	if got := DeriveTitle("short"); got != "short" {
		t.Fatalf("unexpected title: %q", got)
	}
	long := strings.Repeat("x", 60)
	if got := DeriveTitle(long); got != strings.Repeat("x", 50)+"..." {
		t.Fatalf("unexpected truncated title: %q", got)
	}
}
