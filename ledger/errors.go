/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors - rejected before any write is attempted
  2. Write failures - the backing store rejected a step; saga compensates
  3. Rollback failures - logged and discarded, never re-raised

USAGE:
  if errors.Is(err, ledger.ErrInsufficientFunds) {
      // surface the specific message verbatim
  }

SEE ALSO:
  - saga.go: Propagates write failures after compensation
  - types.go: Event.Validate produces SchemaError
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a workflow receives a non-positive
	// amount where money changes hands.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds is returned when a withdrawal-type workflow
	// would take more than the currently reconstructed balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrExchangeMismatch is returned when an exchange's incoming and
	// outgoing denomination totals disagree with the declared amount.
	ErrExchangeMismatch = errors.New("exchange totals do not match")

	// ErrNotEnoughKeycards is returned when a keycard return asks for more
	// cards than the till currently holds.
	ErrNotEnoughKeycards = errors.New("not enough keycards in till")

	// ErrSchema is returned when a value fails record-shape validation.
	ErrSchema = errors.New("record failed schema validation")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("record not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports a balance shortage. Its message is passed
// through to the operator verbatim, unlike generic workflow failures.
type InsufficientFundsError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s",
		e.Available.String(), e.Requested.String())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ExchangeMismatchError reports disagreeing exchange totals.
type ExchangeMismatchError struct {
	Amount   decimal.Decimal
	Incoming decimal.Decimal
	Outgoing decimal.Decimal
}

func (e *ExchangeMismatchError) Error() string {
	return fmt.Sprintf("exchange totals do not match: amount %s, incoming %s, outgoing %s",
		e.Amount.String(), e.Incoming.String(), e.Outgoing.String())
}

func (e *ExchangeMismatchError) Unwrap() error { return ErrExchangeMismatch }

// SchemaError reports why a stored value failed record-shape validation.
// The reader treats the value as absent and keeps the prior valid state.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: %s: %s", e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input
// rather than a store failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrExchangeMismatch) ||
		errors.Is(err, ErrNotEnoughKeycards) ||
		errors.Is(err, ErrSchema)
}
