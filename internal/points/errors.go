package points

import "errors"

var (
	// ErrOrderNotFound means the gateway reported a session paid but no
	// matching order was ever recorded. This is fatal, not retryable:
	// it indicates tampering or data loss, never a benign race.
	ErrOrderNotFound = errors.New("payment order not found")

	// ErrInsufficientPoints is returned by applyTransaction when a debit
	// would drive the balance below zero. Spend translates it into a
	// plain false result for callers.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrInvalidAmount rejects non-positive spend amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)
