package transport

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
)

const pumpBufferSize = 32 * 1024

// streamChannel adapts a started process (remote session or local exec) to
// the Channel interface. One goroutine per stream copies output into
// buffers; a third waits for exit after both streams hit EOF.
type streamChannel struct {
	mu       sync.Mutex
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	exited   bool
	exitCode int
	err      error

	notify chan struct{}
	closer func() error
	once   sync.Once
}

// waitFunc blocks until the process exits. A non-nil error means the exit
// status could not be determined.
type waitFunc func() (int, error)

func newStreamChannel(stdout, stderr io.Reader, wait waitFunc, closer func() error) *streamChannel {
	c := &streamChannel{
		notify: make(chan struct{}, 1),
		closer: closer,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go c.pump(&wg, stdout, &c.stdout)
	go c.pump(&wg, stderr, &c.stderr)

	go func() {
		wg.Wait()
		code, err := wait()
		c.mu.Lock()
		c.exited = true
		c.exitCode = code
		if err != nil && c.err == nil {
			c.err = err
		}
		c.mu.Unlock()
		c.signal()
	}()

	return c
}

func (c *streamChannel) pump(wg *sync.WaitGroup, r io.Reader, dst *bytes.Buffer) {
	defer wg.Done()
	buf := make([]byte, pumpBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.mu.Lock()
			_, _ = dst.Write(buf[:n])
			c.mu.Unlock()
			c.signal()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.mu.Lock()
				if c.err == nil {
					c.err = err
				}
				c.mu.Unlock()
			}
			return
		}
	}
}

func (c *streamChannel) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *streamChannel) ReadStdout(max int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return take(&c.stdout, max)
}

func (c *streamChannel) ReadStderr(max int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return take(&c.stderr, max)
}

func (c *streamChannel) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout.Len() > 0 || c.stderr.Len() > 0
}

func (c *streamChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited
}

func (c *streamChannel) ExitStatus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

func (c *streamChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *streamChannel) Notify() <-chan struct{} {
	return c.notify
}

func (c *streamChannel) Close() error {
	var err error
	c.once.Do(func() {
		if c.closer != nil {
			err = c.closer()
		}
	})
	return err
}

// take removes up to max bytes from buf. max < 0 takes everything.
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
