// Package transporttest provides scripted in-memory transports for tests.
//
// A Channel is driven by the test: output is pushed with Write/WriteErr and
// the command is finished with Exit or Break. Nothing happens on its own, so
// poll-level behavior (no data ready, partial reads, completion) can be
// asserted deterministically.
package transporttest

import (
	"bytes"
	"context"
	"sync"

	"github.com/3leaps/gosbatch/pkg/transport"
)

// Channel is a scripted transport.Channel.
type Channel struct {
	mu       sync.Mutex
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	closed   bool
	exitCode int
	err      error
	released bool
	notify   chan struct{}
}

var _ transport.Channel = (*Channel)(nil)

func NewChannel() *Channel {
	return &Channel{notify: make(chan struct{}, 1)}
}

// Write appends stdout bytes as if the remote command printed them.
func (c *Channel) Write(s string) {
	c.mu.Lock()
	c.stdout.WriteString(s)
	c.mu.Unlock()
	c.signal()
}

// WriteErr appends stderr bytes.
func (c *Channel) WriteErr(s string) {
	c.mu.Lock()
	c.stderr.WriteString(s)
	c.mu.Unlock()
	c.signal()
}

// Exit finishes the command with the given status.
func (c *Channel) Exit(code int) {
	c.mu.Lock()
	c.closed = true
	c.exitCode = code
	c.mu.Unlock()
	c.signal()
}

// Break simulates an I/O failure on an open channel.
func (c *Channel) Break(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.signal()
}

// Released reports whether Close was called.
func (c *Channel) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func (c *Channel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Channel) ReadStdout(max int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return take(&c.stdout, max)
}

func (c *Channel) ReadStderr(max int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return take(&c.stderr, max)
}

func (c *Channel) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.Len() > 0 || c.stderr.Len() > 0
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) ExitStatus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Channel) Notify() <-chan struct{} { return c.notify }

func (c *Channel) Close() error {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
	return nil
}

func take(buf *bytes.Buffer, max int) []byte {
	n := buf.Len()
	if max >= 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, buf.Next(n))
	return out
}

// Transport hands out scripted channels and records every command opened.
type Transport struct {
	mu       sync.Mutex
	commands []string
	channels []*Channel

	// OpenErr, when set, fails every OpenChannel call.
	OpenErr error

	// OnOpen, when set, is called with each new channel before it is returned.
	// Use it to script output for commands issued indirectly.
	OnOpen func(command string, ch *Channel)
}

var _ transport.Transport = (*Transport)(nil)

func NewTransport() *Transport {
	return &Transport{}
}

func (t *Transport) OpenChannel(_ context.Context, command string) (transport.Channel, error) {
	t.mu.Lock()
	openErr := t.OpenErr
	onOpen := t.OnOpen
	t.mu.Unlock()

	if openErr != nil {
		return nil, &transport.TransportError{Op: "open channel", Target: "transporttest", Err: openErr}
	}

	ch := NewChannel()
	t.mu.Lock()
	t.commands = append(t.commands, command)
	t.channels = append(t.channels, ch)
	t.mu.Unlock()

	if onOpen != nil {
		onOpen(command, ch)
	}
	return ch, nil
}

// Commands returns every command opened so far, in order.
func (t *Transport) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}

// Channel returns the i-th opened channel (0-based).
func (t *Transport) Channel(i int) *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channels[i]
}

func (t *Transport) Close() error { return nil }
