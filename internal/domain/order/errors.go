package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Input errors.
var (
	ErrEmptyItems         = errors.New("items required")
	ErrInvalidQuantity    = errors.New("quantity must be greater than 0")
	ErrInvalidDeliveryFee = errors.New("delivery fee must be a non-negative amount with at most 2 decimal places")
)

// Catalog errors raised while validating or reserving a line.
var (
	ErrProductNotFound    = errors.New("product not found")
	ErrProductUnavailable = errors.New("product is not available for ordering")
	ErrBelowMinimumOrder  = errors.New("quantity is below the minimum order quantity")
	ErrInsufficientStock  = errors.New("insufficient stock")
)

// Lifecycle errors.
var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrForbidden               = errors.New("actor is not allowed to perform this action")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrInvalidState            = errors.New("order cannot be cancelled in its current state")
	ErrPaymentAlreadyProcessed = errors.New("payment already processed")
)

// LineError ties a catalog error to the product that caused it. It unwraps to
// one of the catalog sentinels, so callers can match with errors.Is.
type LineError struct {
	ProductID string
	Err       error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("product %s: %v", e.ProductID, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// TransitionError reports a status change missing from the transition table.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IsValidation reports whether err was caused by caller input or catalog
// state, as opposed to an infrastructure failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrEmptyItems,
		ErrInvalidQuantity,
		ErrInvalidDeliveryFee,
		ErrProductNotFound,
		ErrProductUnavailable,
		ErrBelowMinimumOrder,
		ErrInsufficientStock,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
