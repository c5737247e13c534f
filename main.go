package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/metra-ai/metra-server/api"
	"github.com/metra-ai/metra-server/auth"
	"github.com/metra-ai/metra-server/config"
	"github.com/metra-ai/metra-server/dialogue"
	"github.com/metra-ai/metra-server/llm"
	"github.com/metra-ai/metra-server/policy"
	"github.com/metra-ai/metra-server/recommend"
	"github.com/metra-ai/metra-server/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting metra-server...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Chat backend: %s (model %s)", cfg.OpenAIBaseURL, cfg.OpenAIModel)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize chat client (mock when METRA_MODE=MOCK)
	chatClient := llm.NewChatClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.LLMTimeout)

	// Initialize dialogue engine
	engine := dialogue.NewEngine(db, chatClient, dialogue.NewMarkerClassifier(), cfg.OpenAIModel)

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize auth and recommendation clients
	verifier := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	recommender := recommend.NewClient(cfg.HubBaseURL, cfg.HubToken, chatClient, cfg.OpenAIModel, cfg.LLMTimeout)

	// Initialize handler
	h := api.NewHandler(db, engine, verifier, policyEngine, recommender, cfg)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.AllowedOrigins}))
	} else {
		e.Use(middleware.CORS())
	}

	// Register routes
	h.RegisterRoutes(e)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down metra-server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("metra-server stopped")
}
