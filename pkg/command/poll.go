package command

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// PollOptions controls a single Poll call.
type PollOptions struct {
	// Wait blocks until the command reaches a terminal status.
	Wait bool

	// MaxBytes caps the bytes read from each stream while the command is
	// running. Values <= 0 read everything buffered. It never applies once
	// the command has finished: completion always drains fully.
	MaxBytes int
}

// Poll advances a command's state machine and returns its snapshot.
//
// Without Wait, Poll never blocks on the channel: if no output is ready the
// buffers are left untouched and a STARTED command becomes RUNNING. With
// Wait, Poll drains output as it arrives until the channel closes. If ctx
// ends first, the current snapshot is returned with ctx.Err() and the
// command itself is unaffected.
//
// Terminal commands are returned as-is.
func (r *Registry) Poll(ctx context.Context, id int, opts PollOptions) (Command, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Command{}, err
	}
	if err := e.poll.Lock(ctx); err != nil {
		return e.snapshot(), err
	}
	defer e.poll.Unlock()

	maxBytes := opts.MaxBytes
	if opts.Wait || maxBytes <= 0 {
		maxBytes = -1
	}

	for {
		if r.step(e, maxBytes) || !opts.Wait {
			return e.snapshot(), nil
		}
		if e.channel.Pending() {
			continue
		}
		select {
		case <-e.channel.Notify():
		case <-ctx.Done():
			return e.snapshot(), ctx.Err()
		}
	}
}

// step performs one non-blocking transition and reports whether the command
// is terminal afterwards.
func (r *Registry) step(e *entry, maxBytes int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd.Status.Terminal() {
		return true
	}

	ch := e.channel
	now := r.now()

	if err := ch.Err(); err != nil {
		e.appendOutput(ch.ReadStdout(-1), ch.ReadStderr(-1))
		if e.cmd.Stderr != "" && !strings.HasSuffix(e.cmd.Stderr, "\n") {
			e.cmd.Stderr += "\n"
		}
		e.cmd.Stderr += err.Error()
		e.cmd.ExitStatus = -1
		e.setStatus(StatusFailed, now)
		r.release(e)
		return true
	}

	if ch.Closed() {
		e.appendOutput(ch.ReadStdout(-1), ch.ReadStderr(-1))
		e.cmd.ExitStatus = ch.ExitStatus()
		if e.cmd.ExitStatus == 0 {
			e.setStatus(StatusComplete, now)
		} else {
			e.setStatus(StatusFailed, now)
		}
		r.release(e)
		return true
	}

	if ch.Pending() {
		e.appendOutput(ch.ReadStdout(maxBytes), ch.ReadStderr(maxBytes))
	}
	e.setStatus(StatusRunning, now)
	return false
}

// release closes the channel of a command that just became terminal.
// Caller holds e.mu.
func (r *Registry) release(e *entry) {
	if err := e.channel.Close(); err != nil {
		r.logger.Debug("Channel close", zap.Int("id", e.cmd.ID), zap.Error(err))
	}
	r.logger.Debug("Command finished",
		zap.Int("id", e.cmd.ID),
		zap.String("status", string(e.cmd.Status)),
		zap.Int("exit_status", e.cmd.ExitStatus))
}
