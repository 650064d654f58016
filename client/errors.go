package client

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectTimeout means the handshake did not finish within the connect timeout.
	ErrConnectTimeout = errors.New("client: connect timed out")
	ErrNotConnected   = errors.New("client: not connected")
	ErrSendQueueFull  = errors.New("client: send queue full")
)

// TransportError wraps a failure of the underlying connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("client: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError is a local input problem; nothing was sent.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string { return e.Message }
