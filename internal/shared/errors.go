package shared

import "errors"

// Error kinds shared by every goods-flow module. Domain packages wrap one of
// these so callers can branch on retryability with errors.Is.
var (
	// ErrValidation marks malformed input such as a non-positive quantity.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a missing contract, order, warehouse or variant.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition marks an operation the aggregate's state forbids.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInsufficientStock marks a debit that would break the stock invariant.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnresolvable marks a reference no lookup strategy could resolve.
	ErrUnresolvable = errors.New("unresolvable reference")
	// ErrForbidden marks a caller whose role is below the required level.
	ErrForbidden = errors.New("forbidden")
	// ErrTransient marks an infrastructure failure that is safe to retry.
	ErrTransient = errors.New("transient failure")
)

// IsBusiness reports whether err is one of the non-retryable business kinds.
func IsBusiness(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrUnresolvable) ||
		errors.Is(err, ErrForbidden)
}
