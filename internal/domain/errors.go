package domain

import "errors"

var (
	// ErrValidation marks malformed or missing input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrSourceUnavailable marks a non-2xx or undecodable response from the lead source.
	ErrSourceUnavailable = errors.New("lead source unavailable")

	// ErrNotFound is returned when a record does not exist or is owned by another user.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned for missing, invalid, or expired credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict is returned when a unique record already exists.
	ErrConflict = errors.New("already exists")
)
