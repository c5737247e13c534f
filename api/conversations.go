package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/metra-ai/metra-server/auth"
	"github.com/metra-ai/metra-server/domain"
	"github.com/metra-ai/metra-server/policy"
)

// conversationDetail is a conversation with its full ordered history.
type conversationDetail struct {
	domain.Conversation
	Messages []domain.Message `json:"messages"`
}

// CreateConversation creates a new, empty conversation.
// POST /api/v1/conversations
func (h *Handler) CreateConversation(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserID(c)

	var req domain.CreateConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	now := time.Now().UTC()
	conv := &domain.Conversation{
		ConversationID: "conv_" + uuid.New().String()[:8],
		UserID:         userID,
		Title:          req.Title,
		IsCompleted:    false,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.store.CreateConversation(ctx, conv); err != nil {
		log.Printf("ERROR: failed to create conversation: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create conversation"})
	}

	return c.JSON(http.StatusCreated, conversationDetail{Conversation: *conv, Messages: []domain.Message{}})
}

// ListConversations lists the caller's conversations, newest first.
// GET /api/v1/conversations
func (h *Handler) ListConversations(c echo.Context) error {
	ctx := c.Request().Context()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.QueryParam("skip"))
	if offset < 0 {
		offset = 0
	}

	summaries, err := h.store.ListConversations(ctx, auth.UserID(c), limit, offset)
	if err != nil {
		log.Printf("ERROR: failed to list conversations: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list conversations"})
	}
	if summaries == nil {
		summaries = []domain.ConversationSummary{}
	}
	return c.JSON(http.StatusOK, summaries)
}

// GetConversation returns a conversation with its message history.
// GET /api/v1/conversations/:conversation_id
func (h *Handler) GetConversation(c echo.Context) error {
	ctx := c.Request().Context()
	conversationID := c.Param("conversation_id")

	conv, err := h.store.GetConversation(ctx, conversationID, auth.UserID(c))
	if err != nil {
		log.Printf("ERROR: failed to get conversation: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get conversation"})
	}
	if conv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}

	messages, err := h.store.ListMessages(ctx, conversationID)
	if err != nil {
		log.Printf("ERROR: failed to list messages: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get conversation"})
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	return c.JSON(http.StatusOK, conversationDetail{Conversation: *conv, Messages: messages})
}

// UpdateConversation patches title and/or completion flag.
// PATCH /api/v1/conversations/:conversation_id
func (h *Handler) UpdateConversation(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.UpdateConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	conv, err := h.store.UpdateConversation(ctx, c.Param("conversation_id"), auth.UserID(c), req)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		log.Printf("ERROR: failed to update conversation: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to update conversation"})
	}

	return c.JSON(http.StatusOK, conv)
}

// DeleteConversation deletes a conversation and its messages.
// DELETE /api/v1/conversations/:conversation_id
func (h *Handler) DeleteConversation(c echo.Context) error {
	ctx := c.Request().Context()

	err := h.store.DeleteConversation(ctx, c.Param("conversation_id"), auth.UserID(c))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		log.Printf("ERROR: failed to delete conversation: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete conversation"})
	}

	return c.JSON(http.StatusOK, map[string]string{"detail": "conversation deleted"})
}

// admitTurn validates the message body against the turn policy. When the
// turn is rejected the error response has already been written and
// admitted is false.
func (h *Handler) admitTurn(c echo.Context, conv *domain.Conversation, content string) (bool, error) {
	decision, err := h.policy.Evaluate(c.Request().Context(), policy.TurnInput{
		UserID:        auth.UserID(c),
		ContentLength: len(content),
		IsCompleted:   conv.IsCompleted,
	})
	if err != nil {
		log.Printf("ERROR: policy evaluation failed: %v", err)
		return false, c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to process message"})
	}
	if decision == policy.DecisionBlock {
		return false, c.JSON(http.StatusBadRequest, map[string]string{"error": "message rejected by policy"})
	}
	return true, nil
}

// SendMessage runs one synchronous turn and returns the assistant reply.
// POST /api/v1/conversations/:conversation_id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	ctx := c.Request().Context()
	conversationID := c.Param("conversation_id")
	userID := auth.UserID(c)

	var req domain.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	conv, err := h.store.GetConversation(ctx, conversationID, userID)
	if err != nil {
		log.Printf("ERROR: failed to get conversation: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to process message"})
	}
	if conv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}
	if ok, resp := h.admitTurn(c, conv, req.Content); !ok {
		return resp
	}

	msg, err := h.engine.Turn(ctx, userID, conversationID, req.Content)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
		}
		log.Printf("ERROR: turn failed: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "error generating AI response"})
	}

	return c.JSON(http.StatusOK, msg)
}

// SendMessageStream runs one streaming turn. The response is a
// text/event-stream of `data: <chunk>` events terminated by
// `data: [DONE]` on success or `data: ERROR: <message>` on failure; this
// framing is the wire contract and must not change.
// POST /api/v1/conversations/:conversation_id/messages/stream
func (h *Handler) SendMessageStream(c echo.Context) error {
	ctx := c.Request().Context()
	conversationID := c.Param("conversation_id")
	userID := auth.UserID(c)

	var req domain.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	// Resolve client errors before committing to the event stream; once
	// streaming starts all failures become ERROR events.
	conv, err := h.store.GetConversation(ctx, conversationID, userID)
	if err != nil {
		log.Printf("ERROR: failed to get conversation: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to process message"})
	}
	if conv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}
	if ok, resp := h.admitTurn(c, conv, req.Content); !ok {
		return resp
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
	}

	_, err = h.engine.StreamTurn(ctx, userID, conversationID, req.Content, func(delta string) error {
		if _, werr := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", delta); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		log.Printf("ERROR: streaming turn failed: %v", err)
		fmt.Fprintf(c.Response().Writer, "data: ERROR: %s\n\n", err.Error())
		flusher.Flush()
		return nil
	}

	fmt.Fprintf(c.Response().Writer, "data: [DONE]\n\n")
	flusher.Flush()
	return nil
}
