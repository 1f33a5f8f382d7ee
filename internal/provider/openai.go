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

// OpenAI chat-completions wire types for JSON serialization.

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []oaiChoice  `json:"choices"`
	Error   *oaiAPIError `json:"error"`
}

type oaiChoice struct {
	Message oaiMessage `json:"message"`
}

type oaiAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// openAI talks to any chat-completions compatible endpoint, including
// local inference servers that skip auth.
type openAI struct {
	cfg    Config
	client *http.Client
}

// Compile-time interface check.
var _ Generator = (*openAI)(nil)

func newOpenAI(cfg Config) *openAI {
	return &openAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Generate implements Generator. System + user message, no tools.
func (o *openAI) Generate(ctx context.Context, instructions, input string) (string, error) {
	payload, err := json.Marshal(oaiRequest{
		Model:     o.cfg.Model,
		MaxTokens: o.cfg.MaxTokens,
		Messages: []oaiMessage{
			{Role: "system", Content: instructions},
			{Role: "user", Content: input},
		},
	})
	if err != nil {
		return "", fmt.Errorf("provider: encoding openai request: %w", err)
	}

	base := o.cfg.BaseURL
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(base, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("provider: building openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	resp, err := o.client.Do(req)
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
		var decoded oaiResponse
		if json.Unmarshal(body, &decoded) == nil && decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return "", &InferenceError{Status: resp.StatusCode, Message: msg}
	}

	var decoded oaiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &InferenceError{Status: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	if len(decoded.Choices) == 0 {
		return "", &InferenceError{Status: resp.StatusCode, Message: "response contained no choices"}
	}
	return decoded.Choices[0].Message.Content, nil
}
