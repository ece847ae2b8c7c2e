package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when the requested order does not exist.
var ErrNotFound = errors.New("order not found")

// ValidationError rejects malformed input before any mutation happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InsufficientStockError identifies the offending line and how much stock the
// product actually had when the reservation failed.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// IllegalTransitionError rejects a status change not permitted from the
// current state, including a second cancellation.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition from %q to %q", e.From, e.To)
}

// AuthorizationError rejects an actor that is neither the owner of the order
// nor an administrator.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return e.Reason
}
