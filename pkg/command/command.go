// Package command tracks shell commands issued over a shared transport.
//
// Every command gets an integer id, a status that moves
// STARTED → RUNNING → COMPLETE|FAILED, accumulated stdout/stderr, and a
// history of status transitions. Callers poll commands by id, either without
// blocking or waiting for completion.
package command

import (
	"context"
	"sync"
	"time"

	"github.com/3leaps/gosbatch/pkg/transport"
)

// Status is the lifecycle state of a command.
//
// NOTE: These values appear in API responses and logs.
type Status string

const (
	StatusStarted  Status = "STARTED"
	StatusRunning  Status = "RUNNING"
	StatusComplete Status = "COMPLETE"
	StatusFailed   Status = "FAILED"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Transition records one status change.
type Transition struct {
	Status Status    `json:"status"`
	TS     time.Time `json:"ts"`
}

// Command is a snapshot of one tracked remote shell invocation.
type Command struct {
	ID         int          `json:"id"`
	Cmd        string       `json:"cmd"`
	TS         time.Time    `json:"ts"`
	Status     Status       `json:"status"`
	Stdout     string       `json:"stdout"`
	Stderr     string       `json:"stderr"`
	ExitStatus int          `json:"exit_status"`
	History    []Transition `json:"history"`
}

// entry is the registry-owned mutable state behind a Command.
//
// mu guards cmd and is only held briefly. poll serializes polls of the same
// command, which may block for as long as the remote command runs; polls of
// different commands never share it.
type entry struct {
	mu      sync.Mutex
	poll    chanMutex
	cmd     Command
	channel transport.Channel
}

func (e *entry) snapshot() Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.cmd
	c.History = append([]Transition(nil), e.cmd.History...)
	return c
}

// setStatus records a status change. Caller holds e.mu.
func (e *entry) setStatus(s Status, now time.Time) {
	if e.cmd.Status == s {
		return
	}
	e.cmd.Status = s
	e.cmd.History = append(e.cmd.History, Transition{Status: s, TS: now})
}

// appendOutput grows the buffers. Caller holds e.mu.
func (e *entry) appendOutput(stdout, stderr []byte) {
	if len(stdout) > 0 {
		e.cmd.Stdout += string(stdout)
	}
	if len(stderr) > 0 {
		e.cmd.Stderr += string(stderr)
	}
}

// chanMutex is a mutex whose Lock can be abandoned when a context ends, so a
// caller waiting behind a long blocking poll is not stuck forever.
type chanMutex chan struct{}

func newChanMutex() chanMutex { return make(chanMutex, 1) }

func (m chanMutex) Lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m chanMutex) Unlock() { <-m }
