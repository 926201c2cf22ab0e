package domain

import "errors"

// Sentinel errors used throughout the worker.
// Callers compare with errors.Is; wrapped messages end up in failed_reason.
var (
	ErrNotFound           = errors.New("not found")
	ErrMalformedContent   = errors.New("malformed notification content")
	ErrInvalidRoutingMode = errors.New("invalid routing mode: must be development, staging, or production")
	ErrNoRecipients       = errors.New("routing produced no recipients")
	ErrAlreadyTerminal    = errors.New("notification already in a terminal state")
	ErrMissingDeveloper   = errors.New("developer address is not configured")
	ErrInvalidLimit       = errors.New("limit must be between 1 and 100")
)
