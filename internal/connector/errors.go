package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrAuthExpired reports an expired or invalidated credential. The owning
// account must be moved to needs_reauth; the poller never retries it
// automatically.
var ErrAuthExpired = errors.New("connector: authentication expired")

// ErrTransient reports a recoverable failure (network, rate limit, 5xx).
// The poller retries with backoff and does not advance the cursor.
var ErrTransient = errors.New("connector: transient failure")

// AuthExpired wraps err as an authentication failure.
func AuthExpired(err error) error {
	if err == nil {
		return ErrAuthExpired
	}
	return fmt.Errorf("%w: %v", ErrAuthExpired, err)
}

// Transient wraps err as a transient failure.
func Transient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// IsAuthExpired reports whether err is an authentication failure.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// IsTransient reports whether err should be retried with backoff. Untagged
// network and timeout errors classify as transient.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
