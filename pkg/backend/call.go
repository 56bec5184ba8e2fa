package backend

import (
	"context"
	"time"
)

// RetryPolicy controls how a Client call is retried on transient failures.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy allows one transient retry before the failure
// propagates to the caller as fatal for the current run.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  1,
		BaseBackoff: 200 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

// Call sends a prompt through the client under the retry policy.
// Non-transient errors propagate immediately; transient ones are retried
// with exponential backoff until the policy is exhausted.
func Call(ctx context.Context, client Client, prompt string, policy RetryPolicy) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		content, err := client.Complete(ctx, prompt)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == policy.MaxRetries {
			break
		}
		if err := sleepWithContext(ctx, computeBackoff(policy, attempt)); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func computeBackoff(policy RetryPolicy, attempt int) time.Duration {
	backoff := policy.BaseBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= policy.MaxBackoff {
			return policy.MaxBackoff
		}
	}
	if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
		return policy.MaxBackoff
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
