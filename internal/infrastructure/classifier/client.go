// Package classifier suggests transaction categories with an OpenAI-compatible
// chat completion endpoint.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nero/internal/domain/category"
)

const (
	completionsPath = "/chat/completions"
	defaultTimeout  = 20 * time.Second
	temperature     = 0.3
)

var (
	ErrEmptyResponse   = errors.New("classifier returned no choices")
	ErrInvalidResponse = errors.New("classifier returned an invalid suggestion")
)

// Config configures the classifier client
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client asks a language model to pick one of the user's categories
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	categories category.Repository
}

// NewClient creates a classifier that chooses among the categories returned by repo
func NewClient(cfg Config, repo category.Repository) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: httpClient,
		categories: repo,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type suggestionPayload struct {
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// Classify suggests a category for the transaction. It returns nil when the
// user has no category of the transaction's kind or the model names a category
// that does not exist.
func (c *Client) Classify(ctx context.Context, userID string, input category.Input) (*category.Suggestion, error) {
	all, err := c.categories.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	candidates := category.FilterKind(all, input.Kind)
	if len(candidates) == 0 {
		return nil, nil
	}

	content, err := c.complete(ctx, []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildPrompt(input, candidates)},
	})
	if err != nil {
		return nil, err
	}

	payload, err := parseSuggestion(content)
	if err != nil {
		return nil, err
	}

	match := category.ResolveName(candidates, payload.Category, input.Kind)
	if match == nil {
		return nil, nil
	}

	return &category.Suggestion{
		CategoryID: match.ID,
		Name:       match.Name,
		Confidence: clamp(*payload.Confidence),
		Reasoning:  payload.Reasoning,
	}, nil
}

func (c *Client) complete(ctx context.Context, messages []chatMessage) (string, error) {
	jsonData, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("classifier API error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	var apiResp chatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse API response: %w", err)
	}
	if len(apiResp.Choices) == 0 || strings.TrimSpace(apiResp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return apiResp.Choices[0].Message.Content, nil
}

func parseSuggestion(content string) (*suggestionPayload, error) {
	var payload suggestionPayload
	if err := json.Unmarshal([]byte(cleanJSONResponse(content)), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if strings.TrimSpace(payload.Category) == "" || payload.Confidence == nil {
		return nil, fmt.Errorf("%w: missing category or confidence", ErrInvalidResponse)
	}
	return &payload, nil
}

// cleanJSONResponse strips markdown fences and any text around the JSON object
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)

	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		return content
	}

	return strings.TrimSpace(content[startIdx : endIdx+1])
}

func clamp(confidence float64) float64 {
	return max(0, min(1, confidence))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
