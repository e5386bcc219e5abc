package order

import (
	"errors"
	"fmt"

	"github.com/safar/electronics-store/internal/database"
)

// ValidationError reports a malformed request. It is returned before the
// store is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order request: %s %s", e.Field, e.Reason)
}

type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool {
	return target == database.ErrProductNotFound
}

// InsufficientStockError carries the stock observed inside the commit and the
// quantity the request needed from it.
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == database.ErrInsufficientStock
}

// CommitFailedError means the store could not apply the unit of work. Nothing
// was written; the caller may retry the whole request.
type CommitFailedError struct {
	Err error
}

func (e *CommitFailedError) Error() string {
	return fmt.Sprintf("commit order: %v", e.Err)
}

func (e *CommitFailedError) Unwrap() error {
	return e.Err
}

func (e *CommitFailedError) Retryable() bool {
	return database.IsRetryable(e.Err)
}

// IsRetryable reports whether err is a CommitFailedError caused by a
// transient store condition.
func IsRetryable(err error) bool {
	var commitErr *CommitFailedError
	return errors.As(err, &commitErr) && commitErr.Retryable()
}

// Kind names the error category for logs and span attributes.
func Kind(err error) string {
	var (
		validationErr *ValidationError
		notFoundErr   *ProductNotFoundError
		stockErr      *InsufficientStockError
		commitErr     *CommitFailedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &notFoundErr):
		return "product_not_found"
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.As(err, &commitErr):
		return "commit_failed"
	default:
		return "unknown"
	}
}
