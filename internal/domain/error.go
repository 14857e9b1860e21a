package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Billing errors
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrGuardDenied          = errors.New("charge guard denied")
	ErrDuplicateEvent       = errors.New("duplicate provider event")
	ErrMalformedEvent       = errors.New("malformed provider event")
	ErrRecurringUnavailable = errors.New("recurring charges unavailable for payment method")
	ErrProviderUnavailable  = errors.New("payment provider unavailable")
	ErrDedupUnavailable     = errors.New("deduplication store unavailable")
)
