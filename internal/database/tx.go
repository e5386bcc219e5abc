package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"
)

type TxOptions struct {
	IsolationLevel sql.IsolationLevel
	ReadOnly       bool
	// LockTimeout bounds how long any statement in the transaction waits for
	// a row lock. Zero keeps the server default.
	LockTimeout time.Duration
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		ReadOnly:       false,
	}
}

func WithTransaction(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if opts.LockTimeout > 0 {
		_, err := tx.ExecContext(ctx,
			`SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", opts.LockTimeout.Milliseconds()))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

type RetryOptions struct {
	MaxRetries     int
	InitialBackoff time.Duration
	// Retryable decides whether a failed attempt is worth repeating.
	// IsRetryable is used when nil.
	Retryable func(error) bool
}

func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		Retryable:      IsRetryable,
	}
}

// WithRetry runs fn until it succeeds, returns a non-retryable error, or the
// retry budget is spent. Each attempt must be a complete unit of work.
func WithRetry(ctx context.Context, opts RetryOptions, fn func(context.Context) error) error {
	retryable := opts.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !retryable(err) {
			return err
		}

		if attempt == opts.MaxRetries {
			if opts.MaxRetries == 0 {
				return err
			}
			return fmt.Errorf("max retries (%d) exceeded: %w", opts.MaxRetries, err)
		}

		lastErr = err

		jitter := time.Duration(rand.Int63n(int64(backoff/4) + 1))
		sleepDuration := backoff + jitter

		select {
		case <-time.After(sleepDuration):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
	}

	return lastErr
}
