package command

import (
	"fmt"
	"strings"

	"github.com/3leaps/gosbatch/pkg/errdefs"
)

// CommandError reports a command that finished FAILED: non-zero exit, or a
// channel error while the command was running (ExitStatus -1).
type CommandError struct {
	ID         int
	Cmd        string
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("command %d %q failed: exit status %d", e.ID, e.Cmd, e.ExitStatus)
	}
	return fmt.Sprintf("command %d %q failed: exit status %d: %s", e.ID, e.Cmd, e.ExitStatus, msg)
}

// Unwrap returns errdefs.ErrCommandFailed for errors.Is support.
func (e *CommandError) Unwrap() error {
	return errdefs.ErrCommandFailed
}

func newCommandError(c Command) *CommandError {
	return &CommandError{
		ID:         c.ID,
		Cmd:        c.Cmd,
		ExitStatus: c.ExitStatus,
		Stdout:     c.Stdout,
		Stderr:     c.Stderr,
	}
}
