// pkg/execute/retry.go

package execute

import (
	"context"
	"time"

	cerr "github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy is a fixed-backoff retry schedule.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	Sleep    SleepFunc
	// Retryable, when set, stops the schedule early on errors it rejects.
	Retryable func(error) bool
}

// Retry calls fn until it succeeds or the policy is exhausted. It returns
// the number of attempts made and the last error.
func Retry(ctx context.Context, logger *zap.Logger, policy RetryPolicy, op string, fn func(attempt int) error) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		lastErr = fn(i)
		if lastErr == nil {
			if i > 1 {
				logger.Info("Retry succeeded", zap.String("operation", op), zap.Int("attempt", i))
			}
			return i, nil
		}

		logger.Warn("Attempt failed",
			zap.String("operation", op),
			zap.Int("attempt", i),
			zap.Int("max_attempts", attempts),
			zap.Error(lastErr))

		if policy.Retryable != nil && !policy.Retryable(lastErr) {
			return i, cerr.Wrapf(lastErr, "%s: not retryable after %d attempts", op, i)
		}
		if i < attempts {
			if err := sleep(ctx, policy.Delay); err != nil {
				return i, cerr.Wrapf(lastErr, "%s: retry interrupted after %d attempts", op, i)
			}
		}
	}
	return attempts, cerr.Wrapf(lastErr, "%s: all %d attempts failed", op, attempts)
}
