// Package errdefs defines the error kinds shared by the command engine, the
// job store, and the lifecycle controller.
//
// Callers branch on kind with errors.Is (or the IsX helpers), never on
// message text.
package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel error kinds.
var (
	// ErrTransport indicates a connection or channel level I/O failure.
	ErrTransport = errors.New("transport error")

	// ErrCommandFailed indicates a remote command exited non-zero or its
	// channel broke mid-command.
	ErrCommandFailed = errors.New("command failed")

	// ErrNotFound indicates an unknown command id, job id, app, or remote path.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates an invalid state transition or malformed input.
	ErrValidation = errors.New("validation error")

	// ErrTemplateNotFound indicates a template source is missing.
	ErrTemplateNotFound = errors.New("template not found")
)

// NotFound returns an error of kind ErrNotFound with a formatted message.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Validation returns an error of kind ErrValidation with a formatted message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsTransport returns true if the error is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsCommandFailed returns true if the error is a remote command failure.
func IsCommandFailed(err error) bool {
	return errors.Is(err, ErrCommandFailed)
}

// IsNotFound returns true if the error indicates something does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation returns true if the error indicates an invalid transition or input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsTemplateNotFound returns true if the error indicates a missing template.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}
