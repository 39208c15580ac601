package indexer

import (
	"context"
	"fmt"
	"time"
)

// retryConfig bounds the per-attachment download retries. Linear backoff is
// enough here; the source client already absorbs rate limiting.
type retryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
	}
}

// withRetry runs fn up to cfg.MaxAttempts times, sleeping a growing delay
// between attempts. Cancellation wins over a pending retry.
func withRetry(ctx context.Context, cfg retryConfig, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt < cfg.MaxAttempts {
			delay := cfg.InitialDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}
