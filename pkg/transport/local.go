package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Local runs commands through a local shell.
//
// It stands in for a cluster login node when developing against a laptop and
// gives tests a real process-backed channel.
type Local struct {
	shell string
	dir   string
}

// Ensure Local implements Transport.
var _ Transport = (*Local)(nil)

type LocalConfig struct {
	// Shell is the interpreter used as `<shell> -c <command>`. Default: /bin/sh.
	Shell string

	// Dir is the working directory for commands. Default: current directory.
	Dir string
}

func NewLocal(cfg LocalConfig) *Local {
	shell := strings.TrimSpace(cfg.Shell)
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Local{shell: shell, dir: strings.TrimSpace(cfg.Dir)}
}

func (l *Local) OpenChannel(ctx context.Context, command string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "open channel", Target: l.shell, Err: err}
	}

	cmd := exec.Command(l.shell, "-c", command)
	cmd.Dir = l.dir
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &TransportError{Op: "open channel", Target: l.shell, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &TransportError{Op: "open channel", Target: l.shell, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return nil, &TransportError{Op: "open channel", Target: l.shell, Err: fmt.Errorf("start: %w", err)}
	}

	wait := func() (int, error) {
		err := cmd.Wait()
		if err == nil {
			return 0, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				// Terminated by a signal; there is no exit status to report.
				return -1, err
			}
			return code, nil
		}
		return -1, err
	}

	return newStreamChannel(stdout, stderr, wait, nil), nil
}

func (l *Local) Close() error { return nil }
