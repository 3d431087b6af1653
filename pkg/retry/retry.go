// Package retry wraps remote calls in bounded exponential backoff with
// jitter. Every LLM, vector store, and cache call in the core goes through
// Do so degradation behavior stays uniform.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures one retried operation.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the initial backoff interval; subsequent intervals grow
	// exponentially with randomized jitter.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff interval. Zero means no cap.
	MaxDelay time.Duration
	// Operation names the call in logs ("embed_episode", "vector_upsert", …).
	Operation string
}

// DefaultPolicy returns the policy used when callers pass a zero value.
func DefaultPolicy(operation string) Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Operation:   operation,
	}
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do stops immediately instead of retrying.
// Used for the PermanentInput class of the error taxonomy.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs fn under the policy, sleeping between attempts. It returns nil on
// the first success, the context error if cancelled, or the last attempt's
// error once attempts are exhausted.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy(policy.Operation)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.BaseDelay
	if policy.MaxDelay > 0 {
		bo.MaxInterval = policy.MaxDelay
	}
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}

		wait := bo.NextBackOff()
		slog.Debug("Retrying operation",
			"operation", policy.Operation,
			"attempt", attempt,
			"wait", wait,
			"error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", policy.Operation, policy.MaxAttempts, lastErr)
}
