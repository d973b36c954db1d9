package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"
)

// RetryPolicy configures retries of persistence writes.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy retries twice with a short backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:    2,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      time.Second,
	BackoffFactor: 2.0,
}

// withRetry runs fn until it succeeds, fails with a non-retryable error,
// or the policy is exhausted.
func withRetry(ctx context.Context, policy RetryPolicy, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= policy.MaxRetries {
			return err
		}
		sleepWithBackoff(ctx, policy, op, attempt)
	}
	return err
}

// sleepWithBackoff waits for the backoff duration, respecting context cancellation.
func sleepWithBackoff(ctx context.Context, policy RetryPolicy, op string, attempt int) {
	delay := calculateBackoff(policy, attempt)
	slog.Info("retry: backing off", "op", op, "attempt", attempt+1, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// calculateBackoff computes the delay for a given attempt using exponential backoff.
func calculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(attempt))
	if time.Duration(delay) > policy.MaxDelay {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}

// isRetryable checks if an error is worth retrying.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return isRetryableMsg(err.Error())
}

// isRetryableMsg checks if an error message indicates a transient storage condition.
func isRetryableMsg(msg string) bool {
	lower := strings.ToLower(msg)
	retryablePatterns := []string{
		"timeout", "connection reset", "connection refused", "broken pipe",
		"eof", "too many connections", "deadlock", "conflict", "serialization",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
