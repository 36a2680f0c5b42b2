package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// DefaultMaxRetries is used when a Config asks for a negative retry count.
const DefaultMaxRetries = 2

// BackoffBase scales the exponential backoff between attempts (2^attempt * base).
var BackoffBase = time.Second

// Retry runs fn until it succeeds, fails with a non-retriable error, or has
// been attempted maxRetries+1 times.
func Retry[T any](ctx context.Context, name string, maxRetries int, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * BackoffBase
			slog.Info("Retrying after backoff",
				"provider", name,
				"attempt", attempt+1,
				"max_attempts", maxRetries+1,
				"backoff", backoff,
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				slog.Info("Request succeeded after retry", "provider", name, "attempt", attempt+1)
			}
			return result, nil
		}

		if !IsRetriable(err) {
			slog.Debug("Error is not retriable, failing immediately", "provider", name, "error", err)
			return zero, err
		}

		if attempt == maxRetries {
			slog.Error("Request failed after all retries", "provider", name, "attempts", attempt+1, "error", err)
			return zero, fmt.Errorf("failed after %d attempts: %w", attempt+1, err)
		}

		slog.Warn("Request failed, will retry",
			"provider", name,
			"attempt", attempt+1,
			"max_attempts", maxRetries+1,
			"error", err,
		)
	}

	return zero, fmt.Errorf("unexpected retry loop exit")
}
