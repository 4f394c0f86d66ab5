package transport

import (
	"fmt"

	"github.com/3leaps/gosbatch/pkg/errdefs"
)

// TransportError wraps connection and channel failures with context.
type TransportError struct {
	// Op is the operation that failed (e.g., "dial", "open channel").
	Op string

	// Target is the host or shell the transport talks to.
	Target string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports the transport kind so errdefs.IsTransport matches.
func (e *TransportError) Is(target error) bool {
	return target == errdefs.ErrTransport
}
