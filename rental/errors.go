/*
errors.go - Error taxonomy for billing operations

PURPOSE:
  Every failure is a value returned to the caller. Callers branch on the
  kind, never on the message.

ERROR KINDS:
  1. Validation - malformed dates/periods/amounts, negative amounts,
     end-before-start ranges. Never retried, never partially applied.
  2. Conflict - duplicate invoice, move-out of an inactive lease, ordinary
     end while a deposit is held. Never coerced into success.
  3. Not found - referenced record missing in the caller's scope.
  4. Forbidden - a record belongs to another account.

  An absent water reading is not an error. See ResolveWaterCharge.

USAGE:
  _, err := invoices.Issue(ctx, scope, req)
  switch {
  case rental.IsConflict(err):
      // 409
  case rental.IsValidation(err):
      // 400
  }

SEE ALSO:
  - generic/errors.go: Parse and range sentinels
*/
package rental

import (
	"errors"
	"fmt"
	"strings"

	"github.com/warp/rent-billing/generic"
	"github.com/warp/rent-billing/locker"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNegativeAmount is returned when a money input must be non-negative.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrInvalidInput wraps struct validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateInvoice is returned when the (lease, period) was already invoiced.
	ErrDuplicateInvoice = errors.New("invoice already exists for this period")

	// ErrLeaseInactive is returned when ending or moving out an inactive lease.
	ErrLeaseInactive = errors.New("lease is not active")

	// ErrDepositHeld is returned when an ordinary end is attempted while a
	// deposit is still held. Move-out settlement must run instead.
	ErrDepositHeld = errors.New("deposit still held; settle via move-out")

	// ErrUnitAlreadyLeased is returned when a unit already has an active lease.
	ErrUnitAlreadyLeased = errors.New("unit already has an active lease")

	// ErrDuplicateReading is returned for a second reading in the same period.
	ErrDuplicateReading = errors.New("water reading already recorded for this period")

	// ErrDuplicatePayment is returned when a payment idempotency key is reused.
	ErrDuplicatePayment = errors.New("duplicate payment idempotency key")

	// ErrNoActiveLease is returned when a payment has no active lease tying
	// tenant and unit.
	ErrNoActiveLease = errors.New("no active lease for tenant and unit")

	// ErrSequenceConflict is returned by stores when an invoice number is
	// already taken. Issue retries on it.
	ErrSequenceConflict = errors.New("invoice number already taken")

	// ErrSequenceExhausted is returned when every NNNN suffix of a
	// processing month is used.
	ErrSequenceExhausted = errors.New("invoice numbers exhausted for this month")

	// ErrForbidden is returned for cross-account references.
	ErrForbidden = errors.New("record belongs to another account")

	ErrLeaseNotFound    = errors.New("lease not found")
	ErrTenantNotFound   = errors.New("tenant not found")
	ErrUnitNotFound     = errors.New("unit not found")
	ErrPropertyNotFound = errors.New("property not found")
	ErrInvoiceNotFound  = errors.New("invoice not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateInvoiceError names the invoice that already covers the period.
type DuplicateInvoiceError struct {
	LeaseID        string
	PeriodStart    generic.Date
	PeriodEnd      generic.Date
	ExistingID     string
	ExistingNumber string
}

func (e *DuplicateInvoiceError) Error() string {
	return fmt.Sprintf("invoice already exists for lease %s period %s..%s (%s)",
		e.LeaseID, e.PeriodStart, e.PeriodEnd, e.ExistingNumber)
}

func (e *DuplicateInvoiceError) Unwrap() error {
	return ErrDuplicateInvoice
}

// DepositHeldError carries the amount still held.
type DepositHeldError struct {
	LeaseID     string
	DepositHeld generic.Money
}

func (e *DepositHeldError) Error() string {
	return fmt.Sprintf("lease %s still holds deposit %s; use move-out", e.LeaseID, e.DepositHeld)
}

func (e *DepositHeldError) Unwrap() error {
	return ErrDepositHeld
}

// FieldError is one failed validation rule.
type FieldError struct {
	Field string
	Rule  string
	Param string
}

// ValidationError lists the fields of a command that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Param != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", f.Field, f.Rule, f.Param))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Rule))
		}
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true for malformed or out-of-range input.
func IsValidation(err error) bool {
	return generic.IsInputError(err) ||
		errors.Is(err, ErrNegativeAmount) ||
		errors.Is(err, ErrInvalidInput)
}

// IsConflict returns true when the request clashes with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateInvoice) ||
		errors.Is(err, ErrLeaseInactive) ||
		errors.Is(err, ErrDepositHeld) ||
		errors.Is(err, ErrUnitAlreadyLeased) ||
		errors.Is(err, ErrDuplicateReading) ||
		errors.Is(err, ErrDuplicatePayment) ||
		errors.Is(err, ErrNoActiveLease)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLeaseNotFound) ||
		errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrUnitNotFound) ||
		errors.Is(err, ErrPropertyNotFound) ||
		errors.Is(err, ErrInvoiceNotFound)
}

// IsForbidden returns true for cross-account references.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSequenceConflict) ||
		errors.Is(err, locker.ErrNotObtained)
}
