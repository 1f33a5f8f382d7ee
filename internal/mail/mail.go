// Package mail defines the outbound email collaborator. Delivery failures
// are non-fatal to the pipeline: the durable blotter record is authoritative
// even when notification fails.
package mail

import (
	"context"
	"errors"
)

// ErrNotConfigured indicates email delivery was requested without an API key.
var ErrNotConfigured = errors.New("mail: not configured")

// Mailer sends one report email.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, html, text string) error
}

// Config holds email settings.
type Config struct {
	// From is the sender address. Empty means "vigil@localhost".
	From string `yaml:"from"`

	// To is the default recipient list; the run-once CLI flag overrides it.
	To []string `yaml:"to"`

	// APIKey authenticates against the delivery API.
	APIKey string `yaml:"api_key"`
}

// Discard is a Mailer that drops everything, for runs without recipients.
type Discard struct{}

// Send implements Mailer.
func (Discard) Send(context.Context, []string, string, string, string) error {
	return nil
}
