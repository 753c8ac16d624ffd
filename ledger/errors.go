/*
errors.go - Centralized error taxonomy for the stock ledger

PURPOSE:
  One place for every error the ledger can surface, so callers can
  classify outcomes without string matching.

ERROR CATEGORIES:
  1. Not found        - referenced product or batch absent; never retried
  2. Insufficient     - deduction would overdraw the aggregate; never retried
  3. Conflict         - a conditional mutation lost a race; the unit of work
                        has rolled back, so an identical retry is safe
  4. Inconsistency    - aggregate and lot sum disagree; fatal, report loudly
  5. Storage          - generic I/O failure from the underlying store

RETRY CONTRACT:
  The ledger performs no automatic retries. Every operation is atomic, so
  blind caller-level retry is always safe for conflict and storage errors,
  and always wrong for the business errors.

SEE ALSO:
  - ledger.go: where these errors originate
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced product or batch does not
	// exist. No state was changed.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock is returned when a deduction would drive the
	// product aggregate negative. Distinct from ErrNotFound so callers can
	// present "cannot fulfill" rather than a system fault.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrConcurrencyConflict is returned when a conditional mutation lost a
	// race with another writer. The whole unit of work has rolled back;
	// the identical request is safe to retry.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrInternalInconsistency is returned when the aggregate counter and
	// the sum of lots disagree. Fatal: never retried automatically.
	ErrInternalInconsistency = errors.New("aggregate and lot sum disagree")

	// ErrStorage wraps generic I/O failures from the underlying store.
	ErrStorage = errors.New("storage failure")

	// ErrValidation is the base for invalid-input errors.
	ErrValidation = errors.New("validation failed")

	// ErrReturnExceedsBatch is returned when a return would push a batch's
	// remaining quantity above its received quantity.
	ErrReturnExceedsBatch = errors.New("return exceeds batch received quantity")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which entity was missing.
type NotFoundError struct {
	Entity string // "product" or "batch"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError reports a deduction the aggregate could not cover.
type InsufficientStockError struct {
	ProductID ProductID
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d", e.ProductID, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// ConflictError reports which row lost the race.
type ConflictError struct {
	Entity string
	ID     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conditional update on %s %s rejected by concurrent writer", e.Entity, e.ID)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrencyConflict }

// InconsistencyError reports the aggregate/lot-sum disagreement observed
// when the allocator could not cover a deduction the aggregate admitted.
type InconsistencyError struct {
	ProductID ProductID
	Requested int64
	Shortfall int64
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("product %s: aggregate admitted deduction of %d but lots fall short by %d",
		e.ProductID, e.Requested, e.Shortfall)
}

func (e *InconsistencyError) Unwrap() error { return ErrInternalInconsistency }

// ValidationError reports invalid caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StorageError wraps a store-level failure with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return ErrStorage }

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsRetryable returns true if an identical retry of the request may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrStorage)
}

// IsClientError returns true if the error is the caller's to resolve.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrReturnExceedsBatch)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
