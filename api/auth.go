package api

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/metra-ai/metra-server/auth"
	"github.com/metra-ai/metra-server/domain"
)

// Register creates a new account.
// POST /api/v1/auth/register
func (h *Handler) Register(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "a valid email is required"})
	}
	if len(req.Password) < 8 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "password must be at least 8 characters"})
	}

	hash, err := auth.HashPassword(req.Password, h.config.BcryptCost)
	if err != nil {
		log.Printf("ERROR: failed to hash password: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "registration failed"})
	}

	user := &domain.User{
		UserID:         "user_" + uuid.New().String()[:8],
		Email:          req.Email,
		FullName:       req.FullName,
		HashedPassword: hash,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "a user with this email already exists"})
		}
		log.Printf("ERROR: failed to create user: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "registration failed"})
	}

	return c.JSON(http.StatusCreated, user)
}

// Login exchanges credentials for a bearer token.
// POST /api/v1/auth/login
func (h *Handler) Login(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	user, err := h.store.GetUserByEmail(ctx, strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		log.Printf("ERROR: failed to get user: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "login failed"})
	}
	if user == nil || !auth.CheckPassword(user.HashedPassword, req.Password) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "incorrect email or password"})
	}
	if !user.IsActive {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "inactive user"})
	}

	if err := h.store.UpdateLastLogin(ctx, user.UserID, time.Now().UTC()); err != nil {
		log.Printf("WARN: failed to update last login: %v", err)
	}

	token, err := h.verifier.Generate(user.UserID, h.config.TokenTTL)
	if err != nil {
		log.Printf("ERROR: failed to generate token: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "login failed"})
	}

	return c.JSON(http.StatusOK, domain.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}

// Me returns the authenticated user.
// GET /api/v1/auth/me
func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := h.store.GetUser(ctx, auth.UserID(c))
	if err != nil {
		log.Printf("ERROR: failed to get user: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get user"})
	}
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unknown user"})
	}
	return c.JSON(http.StatusOK, user)
}
