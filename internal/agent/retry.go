package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig configures retry behavior for fallible operations
type RetryConfig struct {
	MaxAttempts int           // Total attempts, including the first
	BaseDelay   time.Duration // Delay before the first retry
	Factor      float64       // Multiplier per retry
}

// DefaultRetryConfig returns the standard exponential-backoff profile:
// 1s, 2s, 4s, ... between attempts.
func DefaultRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		Factor:      2.0,
	}
}

// WithRetry executes an operation with exponential backoff. The caller
// only ever sees the final outcome: nil on the first success, or the
// last error once attempts are exhausted or the context ends.
func WithRetry(ctx context.Context, cfg RetryConfig, op func(context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 2.0
	}

	var lastErr error
	backoff := cfg.BaseDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		default:
		}

		err := op(ctx)
		if err == nil {
			if attempt > 0 {
				log.Debug().
					Int("attempt", attempt+1).
					Msg("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("backoff", backoff).
			Msg("Operation failed, retrying with backoff")

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * cfg.Factor)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
