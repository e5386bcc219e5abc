package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), RetryOptions{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
	}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return ErrLockTimeout
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), RetryOptions{
		MaxRetries:     5,
		InitialBackoff: time.Millisecond,
	}, func(context.Context) error {
		attempts++
		return ErrInsufficientStock
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("Expected insufficient stock error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Permanent errors must not be retried, got %d attempts", attempts)
	}
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), RetryOptions{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		Retryable:      func(error) bool { return true },
	}, func(context.Context) error {
		attempts++
		return errors.New("conflict")
	})
	if err == nil {
		t.Fatal("Expected an error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetryZeroRetriesReturnsOriginalError(t *testing.T) {
	err := WithRetry(context.Background(), RetryOptions{}, func(context.Context) error {
		return ErrStockConflict
	})
	if err != ErrStockConflict {
		t.Errorf("Expected the unwrapped error, got: %v", err)
	}
}

func TestWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := WithRetry(ctx, RetryOptions{
		MaxRetries:     10,
		InitialBackoff: time.Hour,
	}, func(context.Context) error {
		attempts++
		cancel()
		return ErrLockTimeout
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context cancellation, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}
