package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// anthropicVersion is the Messages API version header value.
const anthropicVersion = "2023-06-01"

// Anthropic Messages API wire types for JSON serialization.

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
	Error   *anthropicAPIError `json:"error"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropic talks to the Anthropic Messages API (or a compatible endpoint).
type anthropic struct {
	cfg    Config
	client *http.Client
}

// Compile-time interface check.
var _ Generator = (*anthropic)(nil)

func newAnthropic(cfg Config) *anthropic {
	return &anthropic{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Generate implements Generator. One user message, no tools.
func (a *anthropic) Generate(ctx context.Context, instructions, input string) (string, error) {
	payload, err := json.Marshal(anthropicRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System:    instructions,
		Messages:  []anthropicMessage{{Role: "user", Content: input}},
	})
	if err != nil {
		return "", fmt.Errorf("provider: encoding anthropic request: %w", err)
	}

	base := a.cfg.BaseURL
	if base == "" {
		base = "https://api.anthropic.com"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(base, "/")+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("provider: building anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &InferenceError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &InferenceError{Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		var decoded anthropicResponse
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return "", &InferenceError{Status: resp.StatusCode, Message: msg}
	}

	var decoded anthropicResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &InferenceError{Status: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
	}

	var sb strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
