package service

import "errors"

var (
	// ErrInsufficientCredits rejects a submission before any side effect.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNotFound covers resources that are absent or owned by another user.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput marks synchronous validation failures.
	ErrInvalidInput = errors.New("invalid input")
)
