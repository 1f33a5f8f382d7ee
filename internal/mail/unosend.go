package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultEndpoint is the Unosend email API.
const DefaultEndpoint = "https://www.unosend.co/api/v1/emails"

// unosend wire type for JSON serialization.
type unosendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text,omitempty"`
}

// Unosend delivers email through the Unosend HTTP API.
type Unosend struct {
	// APIKey is required; Send fails with ErrNotConfigured without it.
	APIKey string

	// From is the sender address. Empty means "vigil@localhost".
	From string

	// Endpoint overrides the API URL (for testing).
	Endpoint string

	// Timeout bounds one delivery attempt. Zero means 30s.
	Timeout time.Duration

	// Client is injectable for testing.
	Client *http.Client
}

// Compile-time interface check.
var _ Mailer = (*Unosend)(nil)

// Send implements Mailer.
func (u *Unosend) Send(ctx context.Context, to []string, subject, html, text string) error {
	if u.APIKey == "" {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return nil
	}

	from := u.From
	if from == "" {
		from = "vigil@localhost"
	}
	payload, err := json.Marshal(unosendRequest{
		From:    from,
		To:      to,
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
	if err != nil {
		return fmt.Errorf("mail: encoding request: %w", err)
	}

	timeout := u.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := u.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mail: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+u.APIKey)

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("mail: sending: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mail: delivery failed with status %d: %s", resp.StatusCode, body)
	}
	return nil
}
