// Package transport defines the connection abstraction the command engine
// runs on: one long-lived connection that opens independent duplex channels,
// each bound to the lifetime of one remote shell command.
//
// Implementations must allow channels to be read concurrently once open.
// Opening is serialized by the caller (see command.Registry).
package transport

import "context"

// Transport opens command channels over a single shared connection.
type Transport interface {
	// OpenChannel starts command on a new channel.
	// Returns a *TransportError if the connection cannot open a channel.
	OpenChannel(ctx context.Context, command string) (Channel, error)

	// Close releases the underlying connection.
	Close() error
}

// Channel is one running remote command.
//
// Reads never block: output is pumped into internal buffers as it arrives and
// callers drain those buffers. Notify signals whenever new bytes arrive or the
// channel closes, so a caller can wait on a single channel without touching
// any other.
type Channel interface {
	// ReadStdout removes and returns up to max buffered stdout bytes.
	// A negative max drains everything buffered.
	ReadStdout(max int) []byte

	// ReadStderr removes and returns up to max buffered stderr bytes.
	// A negative max drains everything buffered.
	ReadStderr(max int) []byte

	// Pending reports whether any stdout or stderr bytes are buffered.
	Pending() bool

	// Closed reports whether the remote command has exited and both output
	// streams reached EOF. Once true, all output is buffered.
	Closed() bool

	// ExitStatus returns the remote exit status. Valid once Closed is true.
	ExitStatus() int

	// Err returns the I/O error that broke the channel, if any.
	Err() error

	// Notify returns a channel that receives after new output or close.
	Notify() <-chan struct{}

	// Close releases the channel.
	Close() error
}
