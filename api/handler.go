// Package api provides HTTP handlers for the Metra backend.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/metra-ai/metra-server/auth"
	"github.com/metra-ai/metra-server/config"
	"github.com/metra-ai/metra-server/dialogue"
	"github.com/metra-ai/metra-server/policy"
	"github.com/metra-ai/metra-server/recommend"
	"github.com/metra-ai/metra-server/store"
)

// Handler handles HTTP requests.
type Handler struct {
	store     store.Store
	engine    *dialogue.Engine
	verifier  *auth.JWTVerifier
	policy    *policy.Engine
	recommend *recommend.Client
	config    *config.Config
}

// NewHandler creates a new handler.
func NewHandler(st store.Store, engine *dialogue.Engine, verifier *auth.JWTVerifier, policyEngine *policy.Engine, recommender *recommend.Client, cfg *config.Config) *Handler {
	return &Handler{
		store:     st,
		engine:    engine,
		verifier:  verifier,
		policy:    policyEngine,
		recommend: recommender,
		config:    cfg,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	// Public auth endpoints
	authGroup := e.Group("/api/v1/auth")
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)

	// Everything else requires a bearer token
	v1 := e.Group("/api/v1", auth.Middleware(h.verifier))
	v1.GET("/auth/me", h.Me)

	v1.POST("/conversations", h.CreateConversation)
	v1.GET("/conversations", h.ListConversations)
	v1.GET("/conversations/:conversation_id", h.GetConversation)
	v1.PATCH("/conversations/:conversation_id", h.UpdateConversation)
	v1.DELETE("/conversations/:conversation_id", h.DeleteConversation)
	v1.POST("/conversations/:conversation_id/messages", h.SendMessage)
	v1.POST("/conversations/:conversation_id/messages/stream", h.SendMessageStream)

	v1.POST("/task-definitions", h.CreateTaskDefinition)
	v1.GET("/task-definitions", h.ListTaskDefinitions)
	v1.GET("/task-definitions/:task_id", h.GetTaskDefinition)
	v1.DELETE("/task-definitions/:task_id", h.DeleteTaskDefinition)

	v1.POST("/recommendations/recommend", h.RecommendModels)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
	})
}
