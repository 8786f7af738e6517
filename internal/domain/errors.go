package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrLockHeld         = errors.New("lock already held")
	ErrBetNotActive     = errors.New("bet is not active")
	ErrInvalidDirection = errors.New("direction must be higher or lower")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrTokenInactive    = errors.New("token is not active")
	ErrTxFailed         = errors.New("transaction failed")
	ErrTickInProgress   = errors.New("tick already in progress")
	ErrStopping         = errors.New("shutting down")

	// ErrTxUnconfirmed marks a transaction that was accepted by the node but
	// whose receipt did not arrive in time. It may still be mined.
	ErrTxUnconfirmed = errors.New("transaction unconfirmed")
	// ErrSequenceSpent marks a sequence number already used on-chain.
	ErrSequenceSpent = errors.New("sequence number already used")
)
