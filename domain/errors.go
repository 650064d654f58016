package domain

import "errors"

// ErrNotFound is returned by a UserStore when no user matches the requested id.
var ErrNotFound = errors.New("not found")

// ErrInvalidCommand wraps every failure to decode or validate a command envelope.
var ErrInvalidCommand = errors.New("invalid command")

// ErrUnknownEventType is returned when an event discriminant is not one of the known kinds.
var ErrUnknownEventType = errors.New("unknown event type")

// Numeric codes carried by ErrorEvent.
const (
	CodeBadRequest = 400
	CodeNotFound   = 404
	CodeInternal   = 500
)
