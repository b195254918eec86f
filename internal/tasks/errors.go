package tasks

import "errors"

// Every failure the service can surface maps to exactly one of these.
// Only ErrStoreUnavailable is retried; business-rule violations are
// terminal for the request.
var (
	ErrInvalidParticipants = errors.New("approver must differ from creator")
	ErrNotFound            = errors.New("task not found")
	ErrForbidden           = errors.New("actor lacks the role required for this operation")
	ErrStoreUnavailable    = errors.New("task store unavailable")
)
