package backend

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrNotFound indicates the key does not exist or has expired.
	ErrNotFound = errors.New("backend: key not found")

	// ErrNotConnected indicates an operation was attempted before
	// Connect succeeded.
	ErrNotConnected = errors.New("backend: not connected")

	// ErrClosed indicates an operation was attempted after Close.
	ErrClosed = errors.New("backend: closed")

	// ErrUnavailable wraps connectivity failures: dial errors, I/O
	// timeouts, exhausted pools. Errors carrying it are transient and
	// safe to retry.
	ErrUnavailable = errors.New("backend: unavailable")

	// ErrSerialization indicates a value could not be encoded or
	// decoded. Serialization failures are permanent; retrying the same
	// payload cannot succeed.
	ErrSerialization = errors.New("backend: serialization failed")

	// ErrInvalidKind indicates an unrecognized backend kind in the
	// configuration.
	ErrInvalidKind = errors.New("backend: invalid kind")
)

// IsTransient reports whether err is a transient connectivity failure
// worth retrying. Context cancellation is deliberate and never
// transient; deadline expiry on a network operation is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
