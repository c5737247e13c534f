package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
)

// RecommendModels forwards a task definition schema to the model hub
// search, returning ranked candidates.
// POST /api/v1/recommendations/recommend
func (h *Handler) RecommendModels(c echo.Context) error {
	ctx := c.Request().Context()

	var schema json.RawMessage
	if err := c.Bind(&schema); err != nil || len(schema) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid task definition"})
	}

	recommendations, err := h.recommend.Recommend(ctx, schema)
	if err != nil {
		log.Printf("ERROR: model recommendation failed: %v", err)
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "model recommendation failed"})
	}

	return c.JSON(http.StatusOK, recommendations)
}
