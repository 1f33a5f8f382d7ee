package provider

import (
	"context"
	"time"
)

// retryBaseDelay is the first backoff step; each retry doubles it.
const retryBaseDelay = 2 * time.Second

// retryMaxDelay caps the backoff growth.
const retryMaxDelay = 10 * time.Second

// retrying wraps a Generator with exponential backoff on retryable
// failures. Non-retryable errors (4xx other than 429) surface immediately.
type retrying struct {
	inner      Generator
	maxRetries int

	// sleep is injectable for testing. Nil means a context-aware wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// Compile-time interface check.
var _ Generator = (*retrying)(nil)

// Generate implements Generator.
func (r *retrying) Generate(ctx context.Context, instructions, input string) (string, error) {
	sleep := r.sleep
	if sleep == nil {
		sleep = waitCtx
	}

	delay := retryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, delay); err != nil {
				return "", err
			}
			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}

		out, err := r.inner.Generate(ctx, instructions, input)
		if err == nil {
			return out, nil
		}
		if !IsRetryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// waitCtx sleeps for d or until ctx is done.
func waitCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
