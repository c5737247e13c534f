package dialogue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metra-ai/metra-server/domain"
	"github.com/metra-ai/metra-server/llm"
	"github.com/metra-ai/metra-server/store"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1000

	// titleMaxLen is the display length a derived conversation title is
	// truncated to, in runes.
	titleMaxLen = 50
)

// Engine drives one conversational turn end-to-end: it persists the user
// message, streams the backend reply to the caller, and commits the
// assistant message together with any state transition as one unit.
//
// Turns on the same conversation are serialized by a per-conversation
// mutex; two concurrent turns can therefore never read the same history
// and double-append.
type Engine struct {
	store      store.Store
	client     llm.ChatClient
	classifier Classifier
	model      string

	mu    sync.Mutex
	locks map[string]*turnLock
}

// turnLock is a per-conversation lock with a waiter count so the
// registry entry can be dropped once nobody holds or wants it.
type turnLock struct {
	mu   sync.Mutex
	refs int
}

// NewEngine creates a dialogue engine. The backend client is injected
// here; the engine holds no process-wide credentials.
func NewEngine(st store.Store, client llm.ChatClient, classifier Classifier, model string) *Engine {
	return &Engine{
		store:      st,
		client:     client,
		classifier: classifier,
		model:      model,
		locks:      make(map[string]*turnLock),
	}
}

// lockConversation acquires the turn lock for a conversation and returns
// its release func. The registry entry is evicted when the last holder
// releases, so the map stays bounded by in-flight turns.
func (e *Engine) lockConversation(conversationID string) func() {
	e.mu.Lock()
	lock, ok := e.locks[conversationID]
	if !ok {
		lock = &turnLock{}
		e.locks[conversationID] = lock
	}
	lock.refs++
	e.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		e.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(e.locks, conversationID)
		}
		e.mu.Unlock()
	}
}

// Turn runs one synchronous turn and returns the persisted assistant
// message.
func (e *Engine) Turn(ctx context.Context, userID, conversationID, content string) (*domain.Message, error) {
	unlock := e.lockConversation(conversationID)
	defer unlock()

	conv, history, err := e.beginTurn(ctx, userID, conversationID, content)
	if err != nil {
		return nil, err
	}

	req := e.chatRequest(history)
	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return e.commitAssistant(ctx, conv, history, resp.Choices[0].Message.Content)
}

// StreamTurn runs one streaming turn. Each backend delta is relayed to
// onDelta in arrival order before the next is read. On success the
// accumulated reply is persisted and returned; on any failure nothing
// beyond the user message is persisted and the partial text is dropped.
func (e *Engine) StreamTurn(ctx context.Context, userID, conversationID, content string, onDelta func(string) error) (*domain.Message, error) {
	unlock := e.lockConversation(conversationID)
	defer unlock()

	conv, history, err := e.beginTurn(ctx, userID, conversationID, content)
	if err != nil {
		return nil, err
	}

	req := e.chatRequest(history)
	var full []byte
	err = e.client.CreateChatCompletionStream(ctx, req, func(delta string) error {
		if err := onDelta(delta); err != nil {
			return err
		}
		full = append(full, delta...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion stream failed: %w", err)
	}

	return e.commitAssistant(ctx, conv, history, string(full))
}

// beginTurn validates ownership, durably appends the user message and
// loads the ordered context. The user message is committed before the
// backend is contacted so a mid-stream failure never loses it.
func (e *Engine) beginTurn(ctx context.Context, userID, conversationID, content string) (*domain.Conversation, []domain.Message, error) {
	conv, err := e.store.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, nil, domain.ErrNotFound
	}

	userMsg := &domain.Message{
		MessageID:      "msg_" + uuid.New().String()[:8],
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.CreateMessage(ctx, userMsg); err != nil {
		return nil, nil, fmt.Errorf("failed to save user message: %w", err)
	}

	history, err := e.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history: %w", err)
	}

	return conv, history, nil
}

func (e *Engine) chatRequest(history []domain.Message) *llm.ChatCompletionRequest {
	temperature := defaultTemperature
	maxTokens := defaultMaxTokens
	return &llm.ChatCompletionRequest{
		Model:       e.model,
		Messages:    buildChatMessages(history),
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
}

// commitAssistant persists the assistant reply and, when the classifier
// signals a completed schema proposal, the open → completed transition in
// the same transaction. On the first exchange of an untitled
// conversation the title is derived from the first user message.
func (e *Engine) commitAssistant(ctx context.Context, conv *domain.Conversation, history []domain.Message, text string) (*domain.Message, error) {
	msg := &domain.Message{
		MessageID:      "msg_" + uuid.New().String()[:8],
		ConversationID: conv.ConversationID,
		Role:           domain.RoleAssistant,
		Content:        text,
		CreatedAt:      time.Now().UTC(),
	}

	completed := !conv.IsCompleted && e.classifier.SchemaReady(text)

	var title string
	if completed && conv.Title == "" && len(history) == 1 {
		title = DeriveTitle(history[0].Content)
	}

	if err := e.store.FinishTurn(ctx, msg, completed, title); err != nil {
		return nil, fmt.Errorf("failed to commit assistant message: %w", err)
	}

	return msg, nil
}

// DeriveTitle produces a display title from the first user message,
// truncated with an ellipsis marker when over the display limit.
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleMaxLen {
		return content
	}
	return string(runes[:titleMaxLen]) + "..."
}
