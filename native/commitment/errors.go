package commitment

import "errors"

var (
	// Authorization, state and time-window errors produced by the guards.
	ErrUnauthorized    = errors.New("commitment: unauthorized caller")
	ErrAlreadyResolved = errors.New("commitment: already resolved")
	ErrDeadlinePassed  = errors.New("commitment: deadline passed")
	ErrNotExpiredYet   = errors.New("commitment: not expired yet")

	ErrNotFound           = errors.New("commitment: not found")
	ErrInvalidAction      = errors.New("commitment: invalid action")
	ErrInvalidAmount      = errors.New("commitment: stake amount must be positive")
	ErrInvalidDeadline    = errors.New("commitment: deadline must be after creation time")
	ErrInvalidDescription = errors.New("commitment: invalid description")
	ErrInvalidArbiter     = errors.New("commitment: arbiter required")
	ErrDefinitionMismatch = errors.New("commitment: identifier already exists with different definition")
)
