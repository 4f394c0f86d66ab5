// Package cmd implements the gosbatch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gosbatch/internal/observability"
	"github.com/3leaps/gosbatch/pkg/errdefs"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile       string
	verbose       bool
	transportFlag string
)

var rootCmd = &cobra.Command{
	Use:   "gosbatch",
	Short: "Manage SLURM jobs on a remote cluster over SSH",
	Long: `gosbatch drives a SLURM cluster over a single SSH connection.

It deploys application templates, sets up job working directories, submits
and cancels jobs, moves data in and out, and runs ad-hoc shell commands.
It can also serve the same operations over HTTP.

Configuration is read from gosbatch.yaml (current directory or
~/.config/gosbatch/) and GOSBATCH_* environment variables, e.g.
GOSBATCH_CONNECTION_HOST, GOSBATCH_CONNECTION_USER, GOSBATCH_CONNECTION_PASSWORD.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		observability.InitCLILogger("gosbatch", verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./gosbatch.yaml or ~/.config/gosbatch/gosbatch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&transportFlag, "transport", "", "Transport override: ssh or local")
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// SetVersionInfo is called from main with build-time values.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func exitError(code int, message string, err error) error {
	return &exitCodeError{code: code, err: fmt.Errorf("%s: %w (exit code %d)", message, err, code)}
}

// ExitCode returns the process exit code carried by err: 0 for nil, 1 when
// none was attached.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec *exitCodeError
	if errors.As(err, &ec) {
		return ec.code
	}
	return 1
}

// exitCodeFor picks the exit code for an error from the job packages.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return foundry.ExitSignalInt
	case errdefs.IsValidation(err):
		return foundry.ExitInvalidArgument
	case errdefs.IsNotFound(err), errdefs.IsTemplateNotFound(err):
		return foundry.ExitFileNotFound
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}

// fail wraps err with the exit code matching its kind.
func fail(message string, err error) error {
	return exitError(exitCodeFor(err), message, err)
}
