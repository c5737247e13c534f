// Package recommend searches the model hub for candidates matching a
// task definition. Recommendation is two-stage: the chat backend distills
// the task schema into search keywords, then the hub API is queried and
// results are returned ranked by likes.
package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/metra-ai/metra-server/domain"
	"github.com/metra-ai/metra-server/llm"
)

const keywordPrompt = `You are an expert model curator. Analyze the following task definition (JSON) and produce precise, relevant keywords for searching pre-trained models on a model hub. Consider task, language, domain and performance requirements. Output the keywords as a single comma-separated string and nothing else.

Task definition:
%s`

const resultLimit = 5

// Client recommends hub models for a task definition.
type Client struct {
	hubBaseURL string
	hubToken   string
	chat       llm.ChatClient
	model      string
	httpClient *http.Client
}

// NewClient creates a recommendation client.
func NewClient(hubBaseURL, hubToken string, chat llm.ChatClient, model string, timeout time.Duration) *Client {
	return &Client{
		hubBaseURL: strings.TrimSuffix(hubBaseURL, "/"),
		hubToken:   hubToken,
		chat:       chat,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Recommend returns up to five hub models matching the task schema,
// ranked by likes descending.
func (c *Client) Recommend(ctx context.Context, schema json.RawMessage) ([]domain.ModelRecommendation, error) {
	keywords, err := c.extractKeywords(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("keyword extraction failed: %w", err)
	}

	models, err := c.searchHub(ctx, keywords)
	if err != nil {
		return nil, fmt.Errorf("hub search failed: %w", err)
	}
	return models, nil
}

func (c *Client) extractKeywords(ctx context.Context, schema json.RawMessage) (string, error) {
	temperature := 0.2
	maxTokens := 50
	resp, err := c.chat.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model: c.model,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: fmt.Sprintf(keywordPrompt, string(schema))},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return "", fmt.Errorf("no completion choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// hubModel is one row of the hub's /api/models response.
type hubModel struct {
	ModelID     string   `json:"modelId"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Downloads   int      `json:"downloads"`
	Likes       int      `json:"likes"`
}

func (c *Client) searchHub(ctx context.Context, keywords string) ([]domain.ModelRecommendation, error) {
	query := url.Values{}
	query.Set("search", keywords)
	query.Set("sort", "likes")
	query.Set("direction", "-1")
	query.Set("limit", fmt.Sprintf("%d", resultLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.hubBaseURL+"/api/models?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.hubToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.hubToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hub API error [%d]: %s", resp.StatusCode, string(body))
	}

	var models []hubModel
	if err := json.Unmarshal(body, &models); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	recommendations := make([]domain.ModelRecommendation, 0, len(models))
	for _, m := range models {
		recommendations = append(recommendations, domain.ModelRecommendation{
			ModelID:     m.ModelID,
			Description: m.Description,
			Tags:        m.Tags,
			Downloads:   m.Downloads,
			Likes:       m.Likes,
		})
	}
	return recommendations, nil
}
