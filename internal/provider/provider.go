// Package provider implements the inference gateway: one provider-agnostic
// contract for sending a finalized prompt to a text-generation backend and
// getting raw text back. The exchange is strictly request/response: no
// tool definitions are ever sent and no mechanism exists for the backend to
// request a follow-up action.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Provider kinds selectable by configuration.
const (
	KindAnthropic = "anthropic"
	KindOpenAI    = "openai"
)

// Generator is the single capability all providers conform to: accept
// instructions plus context text, return generated text.
type Generator interface {
	Generate(ctx context.Context, instructions, input string) (string, error)
}

// Config selects and tunes a provider. Timeout and retry policy live here,
// not in pipeline logic.
type Config struct {
	// Kind is "anthropic" (Messages API and compatible endpoints) or
	// "openai" (chat-completions API and compatible endpoints).
	Kind string `yaml:"kind"`

	// Model is the backend model identifier. Required.
	Model string `yaml:"model"`

	// APIKey is the credential. Usually supplied via ${VAR} expansion in
	// the config file.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint (e.g. a local
	// OpenAI-compatible server).
	BaseURL string `yaml:"base_url"`

	// MaxTokens bounds one generation. Zero means 4096.
	MaxTokens int `yaml:"max_tokens"`

	// Timeout bounds one HTTP exchange. Zero means 120s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is how many times a retryable failure (429, 5xx) is
	// reattempted with exponential backoff. Zero means 2 retries;
	// negative disables retry.
	MaxRetries int `yaml:"max_retries"`
}

func (c Config) withDefaults() Config {
	if c.Kind == "" {
		c.Kind = KindAnthropic
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	return c
}

// New creates the configured provider client, wrapped with the configured
// retry policy. Selection is a pure configuration switch, never runtime
// type inspection.
func New(cfg Config) (Generator, error) {
	cfg = cfg.withDefaults()
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider: model must not be empty")
	}

	var inner Generator
	switch cfg.Kind {
	case KindAnthropic:
		inner = newAnthropic(cfg)
	case KindOpenAI:
		inner = newOpenAI(cfg)
	default:
		return nil, fmt.Errorf("provider: unknown kind %q", cfg.Kind)
	}

	if cfg.MaxRetries < 0 {
		return inner, nil
	}
	return &retrying{inner: inner, maxRetries: cfg.MaxRetries}, nil
}
