package gamification

import "errors"

var (
	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrInsufficientBalance is returned when a spend exceeds the current balance
	ErrInsufficientBalance = errors.New("insufficient coin balance")

	// ErrDuplicateSource is returned when a (user, source kind, source ref)
	// transaction already exists with a different amount or direction
	ErrDuplicateSource = errors.New("duplicate source reference")

	// ErrUnknownActivity is returned for activity kinds without a coin rule
	ErrUnknownActivity = errors.New("unknown activity kind")

	// ErrBadgeNotFound is returned when a badge id does not exist
	ErrBadgeNotFound = errors.New("badge not found")

	// ErrStorageConflict is returned after bounded retries on transaction
	// serialization failures; callers may retry the whole call
	ErrStorageConflict = errors.New("storage conflict, retry")
)
