package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/metra-ai/metra-server/auth"
	"github.com/metra-ai/metra-server/dialogue"
	"github.com/metra-ai/metra-server/domain"
)

// CreateTaskDefinition saves the schema produced by a conversation.
// When no schema is supplied it is extracted from the latest assistant
// message. Creating a task definition forces the conversation completed.
// POST /api/v1/task-definitions
func (h *Handler) CreateTaskDefinition(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserID(c)

	var req domain.CreateTaskDefinitionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ConversationID == "" || req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "conversation_id and name are required"})
	}

	conv, err := h.store.GetConversation(ctx, req.ConversationID, userID)
	if err != nil {
		log.Printf("ERROR: failed to get conversation: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create task definition"})
	}
	if conv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}

	schema := req.Schema
	if len(schema) == 0 {
		// Lazy extraction from the latest assistant reply
		last, err := h.store.LatestAssistantMessage(ctx, req.ConversationID)
		if err != nil {
			log.Printf("ERROR: failed to get latest assistant message: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create task definition"})
		}
		if last == nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": domain.ErrNoAssistantMessage.Error()})
		}
		schema, err = dialogue.ExtractSchema(last.Content)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": domain.ErrNoSchema.Error()})
		}
	}

	now := time.Now().UTC()
	task := &domain.TaskDefinition{
		TaskID:            "task_" + uuid.New().String()[:8],
		ConversationID:    req.ConversationID,
		UserID:            userID,
		Name:              req.Name,
		Description:       req.Description,
		Schema:            schema,
		RecommendedModels: req.RecommendedModels,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.store.CreateTaskDefinition(ctx, task); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "task definition already exists for this conversation"})
		}
		log.Printf("ERROR: failed to create task definition: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create task definition"})
	}

	return c.JSON(http.StatusCreated, task)
}

// ListTaskDefinitions lists the caller's task definitions, newest first.
// GET /api/v1/task-definitions
func (h *Handler) ListTaskDefinitions(c echo.Context) error {
	ctx := c.Request().Context()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.QueryParam("skip"))
	if offset < 0 {
		offset = 0
	}

	tasks, err := h.store.ListTaskDefinitions(ctx, auth.UserID(c), limit, offset)
	if err != nil {
		log.Printf("ERROR: failed to list task definitions: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list task definitions"})
	}
	if tasks == nil {
		tasks = []domain.TaskDefinition{}
	}
	return c.JSON(http.StatusOK, tasks)
}

// GetTaskDefinition returns one task definition.
// GET /api/v1/task-definitions/:task_id
func (h *Handler) GetTaskDefinition(c echo.Context) error {
	ctx := c.Request().Context()

	task, err := h.store.GetTaskDefinition(ctx, c.Param("task_id"), auth.UserID(c))
	if err != nil {
		log.Printf("ERROR: failed to get task definition: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get task definition"})
	}
	if task == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "task definition not found"})
	}
	return c.JSON(http.StatusOK, task)
}

// DeleteTaskDefinition deletes one task definition.
// DELETE /api/v1/task-definitions/:task_id
func (h *Handler) DeleteTaskDefinition(c echo.Context) error {
	ctx := c.Request().Context()

	err := h.store.DeleteTaskDefinition(ctx, c.Param("task_id"), auth.UserID(c))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "task definition not found"})
		}
		log.Printf("ERROR: failed to delete task definition: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to delete task definition"})
	}

	return c.JSON(http.StatusOK, map[string]string{"detail": "task definition deleted"})
}
