/*
errors.go - Centralized error types for the gold engine

PURPOSE:
  All error types in one place. Every structured error unwraps to exactly one
  category sentinel so callers (HTTP layer, retry loop) can classify with
  errors.Is without knowing the concrete type.

ERROR CATEGORIES:
  1. ErrValidation          - malformed input, rejected before any mutation
  2. ErrInvariantViolation  - the mutation would break a balance invariant
  3. ErrBusinessRule        - not enough ownership / stock / gold, duplicates
  4. ErrConcurrencyConflict - lock timeout or version mismatch (retryable)
  5. ErrPrecondition        - required state is missing (no cost data, nothing to fold)
  6. ErrNotFound            - referenced row does not exist

RETRIES:
  Only ErrConcurrencyConflict is retried by the engine itself (see concurrency.go).
*/
package gold

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrBusinessRule        = errors.New("business rule violation")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrPrecondition        = errors.New("precondition failed")
	ErrNotFound            = errors.New("not found")
)

// =============================================================================
// VALIDATION
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DifferentKaratRequiredError is returned by Convert when both karats are equal.
type DifferentKaratRequiredError struct {
	Karat KaratTypeID
}

func (e *DifferentKaratRequiredError) Error() string {
	return fmt.Sprintf("conversion requires different karats, got %s on both sides", e.Karat)
}

func (e *DifferentKaratRequiredError) Unwrap() error { return ErrValidation }

// =============================================================================
// INVARIANT VIOLATIONS
// =============================================================================

type OverpaymentError struct {
	OwnershipID OwnershipID
	TotalCost   decimal.Decimal
	AmountPaid  decimal.Decimal
	Attempted   decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s on %s exceeds outstanding %s (paid %s of %s)",
		e.Attempted, e.OwnershipID, e.TotalCost.Sub(e.AmountPaid), e.AmountPaid, e.TotalCost)
}

func (e *OverpaymentError) Unwrap() error { return ErrInvariantViolation }

type ExceedsReceivedWeightError struct {
	Key       SupplierBalanceKey
	Received  decimal.Decimal
	PaidFor   decimal.Decimal
	Attempted decimal.Decimal
}

func (e *ExceedsReceivedWeightError) Error() string {
	return fmt.Sprintf("paying for %sg of %s exceeds received weight: received %sg, already paid %sg",
		e.Attempted, e.Key.KaratTypeID, e.Received, e.PaidFor)
}

func (e *ExceedsReceivedWeightError) Unwrap() error { return ErrInvariantViolation }

type ExceedsOutstandingDebtError struct {
	Key         SupplierBalanceKey
	Outstanding decimal.Decimal
	Requested   decimal.Decimal
}

func (e *ExceedsOutstandingDebtError) Error() string {
	return fmt.Sprintf("%sg of %s exceeds outstanding debt %sg for supplier %s",
		e.Requested, e.Key.KaratTypeID, e.Outstanding, e.Key.SupplierID)
}

func (e *ExceedsOutstandingDebtError) Unwrap() error { return ErrInvariantViolation }

// =============================================================================
// BUSINESS RULES
// =============================================================================

type InsufficientOwnershipError struct {
	ProductID ProductID
	BranchID  BranchID
	Owned     decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientOwnershipError) Error() string {
	return fmt.Sprintf("insufficient ownership for %s at %s: owned %s, requested %s",
		e.ProductID, e.BranchID, e.Owned, e.Requested)
}

func (e *InsufficientOwnershipError) Unwrap() error { return ErrBusinessRule }

type PartialFulfillmentError struct {
	ProductID ProductID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *PartialFulfillmentError) Error() string {
	return fmt.Sprintf("cost lots for %s cover %s of %s requested", e.ProductID, e.Available, e.Requested)
}

func (e *PartialFulfillmentError) Unwrap() error { return ErrBusinessRule }

type InsufficientGoldError struct {
	Key       MerchantBalanceKey
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientGoldError) Error() string {
	return fmt.Sprintf("insufficient %s raw gold at %s: available %sg, requested %sg",
		e.Key.KaratTypeID, e.Key.BranchID, e.Available, e.Requested)
}

func (e *InsufficientGoldError) Unwrap() error { return ErrBusinessRule }

// DuplicateMovementError rejects a replayed movement (same reference, type and row).
type DuplicateMovementError struct {
	OwnershipID     OwnershipID
	Type            MovementType
	ReferenceNumber string
}

func (e *DuplicateMovementError) Error() string {
	return fmt.Sprintf("%s movement %q already recorded for %s", e.Type, e.ReferenceNumber, e.OwnershipID)
}

func (e *DuplicateMovementError) Unwrap() error { return ErrBusinessRule }

// =============================================================================
// CONCURRENCY
// =============================================================================

// ConcurrencyConflictError is retryable.
type ConcurrencyConflictError struct {
	Resource string
	Reason   string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s: %s", e.Resource, e.Reason)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// =============================================================================
// PRECONDITIONS
// =============================================================================

type NoCostDataError struct {
	ProductID ProductID
	BranchID  BranchID
}

func (e *NoCostDataError) Error() string {
	if e.BranchID == "" {
		return fmt.Sprintf("no cost lots with remaining weight for %s", e.ProductID)
	}
	return fmt.Sprintf("no cost lots with remaining weight for %s at %s", e.ProductID, e.BranchID)
}

func (e *NoCostDataError) Unwrap() error { return ErrPrecondition }

type NothingToConsolidateError struct {
	ProductID  ProductID
	SupplierID SupplierID
	Found      int
}

func (e *NothingToConsolidateError) Error() string {
	return fmt.Sprintf("nothing to consolidate for %s/%s: %d active row(s)", e.ProductID, e.SupplierID, e.Found)
}

func (e *NothingToConsolidateError) Unwrap() error { return ErrPrecondition }

// InactiveOwnershipError rejects payments and adjustments on a closed row.
type InactiveOwnershipError struct {
	OwnershipID      OwnershipID
	ConsolidatedInto OwnershipID
}

func (e *InactiveOwnershipError) Error() string {
	if e.ConsolidatedInto != "" {
		return fmt.Sprintf("ownership %s is inactive: consolidated into %s", e.OwnershipID, e.ConsolidatedInto)
	}
	return fmt.Sprintf("ownership %s is inactive", e.OwnershipID)
}

func (e *InactiveOwnershipError) Unwrap() error { return ErrPrecondition }

// =============================================================================
// NOT FOUND
// =============================================================================

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is caused by the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvariantViolation) ||
		errors.Is(err, ErrBusinessRule) ||
		errors.Is(err, ErrPrecondition)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// validationErrors collects field errors and reports the first one.
type validationErrors []*ValidationError

func (v *validationErrors) add(field, message string) {
	*v = append(*v, &ValidationError{Field: field, Message: message})
}

func (v *validationErrors) positive(field string, d decimal.Decimal) {
	if !d.IsPositive() {
		v.add(field, "must be positive")
	}
}

func (v *validationErrors) nonNegative(field string, d decimal.Decimal) {
	if d.IsNegative() {
		v.add(field, "must not be negative")
	}
}

func (v *validationErrors) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.add(field, "is required")
	}
}

func (v validationErrors) err() error {
	if len(v) == 0 {
		return nil
	}
	return v[0]
}
