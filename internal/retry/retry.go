// Package retry wraps calls to the external generation services with a
// bounded retry loop. Rate-limited calls back off linearly, other transient
// failures wait a fixed delay, and permanent failures are returned at once.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/storybook-be/internal/book"
)

// Policy bounds a retried call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// CallTimeout caps every single attempt. Zero means no per-attempt cap.
	CallTimeout time.Duration
}

// DefaultPolicy matches the pipeline defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Second,
		CallTimeout: 60 * time.Second,
	}
}

// Delay returns how long to wait after the given zero-based attempt failed
// with err.
func (p Policy) Delay(attempt int, err error) time.Duration {
	if IsRateLimited(err) {
		return p.BaseDelay * time.Duration(attempt+2)
	}
	return p.BaseDelay
}

// Invoke runs fn until it succeeds, fails permanently, the context ends, or
// MaxAttempts is reached. The last error is returned wrapped with op.
func Invoke[T any](ctx context.Context, logger *slog.Logger, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s cancelled: %w", op, err)
		}

		result, err := call(ctx, p.CallTimeout, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if book.IsPermanent(err) {
			logger.Warn("Call failed permanently",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.Any("error", err),
			)
			return zero, fmt.Errorf("%s failed: %w", op, err)
		}

		// A cancelled parent is not worth another attempt.
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s cancelled: %w", op, errors.Join(ctx.Err(), err))
		}

		if attempt == attempts-1 {
			break
		}

		delay := p.Delay(attempt, err)
		logger.Warn("Call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", attempts),
			slog.Bool("rate_limited", IsRateLimited(err)),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)

		if err := Sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s cancelled: %w", op, err)
		}
	}

	logger.Error("Call failed after all attempts",
		slog.String("op", op),
		slog.Int("attempts", attempts),
		slog.Any("error", lastErr),
	)

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return result, fmt.Errorf("call timed out after %s: %w", timeout, err)
	}
	return result, err
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
