package domain

import "errors"

var (
	ErrResourceNotFound   = errors.New("resource not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrInvalidID          = errors.New("invalid id")
	ErrClaimantRequired   = errors.New("claimant id required")
	ErrTitleRequired      = errors.New("title required")
	ErrInvalidCapacity    = errors.New("invalid capacity")
	ErrInvalidPrice       = errors.New("invalid price")
	ErrInvalidCurrency    = errors.New("invalid currency")
	ErrCapacityBelowUsage = errors.New("capacity below current consumption")

	// Business rule: surfaced to the claimant, never retried.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// Transient: the claimant may retry the checkout.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// Data-integrity faults: logged and held for manual review.
	ErrMalformedReference          = errors.New("malformed external reference")
	ErrUnknownOrderKind            = errors.New("unknown order kind")
	ErrInvalidTransition           = errors.New("invalid order status transition")
	ErrInvalidAssignmentTransition = errors.New("invalid assignment status transition")

	// ErrAlreadyExists signals an order id collision. Ids are random UUIDs so
	// this is treated as an assertion failure.
	ErrAlreadyExists = errors.New("already exists")

	ErrConcurrentUpdate = errors.New("concurrent update")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// IsIntegrityFault reports whether err is one of the faults that must be held
// for manual review instead of being retried blindly.
func IsIntegrityFault(err error) bool {
	return errors.Is(err, ErrMalformedReference) ||
		errors.Is(err, ErrUnknownOrderKind) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOrderNotFound)
}
