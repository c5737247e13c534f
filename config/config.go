// Package config provides configuration for the Metra backend.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Generative backend (OpenAI-compatible)
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
	LLMTimeout    time.Duration

	// Model hub search
	HubBaseURL string
	HubToken   string

	// Auth
	JWTSecret      string
	TokenTTL       time.Duration
	BcryptCost     int
	AllowedOrigins []string
}

// Load loads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:      getEnvInt("HTTP_PORT", 8000),
		DatabaseURL:   getEnv("DATABASE_URL", "file:metra.db?cache=shared&mode=rwc"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4"),
		LLMTimeout:    time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		HubBaseURL:    getEnv("HUB_BASE_URL", "https://huggingface.co"),
		HubToken:      getEnv("HUGGINGFACE_TOKEN", ""),
		JWTSecret:     getEnv("SECRET_KEY", "change-me-in-production"),
		TokenTTL:      time.Duration(getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24*7)) * time.Minute,
		BcryptCost:    getEnvInt("BCRYPT_COST", 10),
	}
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
