package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/internal/observability"
	"github.com/3leaps/gosbatch/pkg/command"
)

var execCmd = &cobra.Command{
	Use:   "exec <command>",
	Short: "Run a shell command on the cluster",
	Long: `Run a shell command on the cluster login node and print its output.

Stdout and stderr are printed as they were captured. A non-zero exit status
fails the command.

Examples:
  gosbatch exec 'hostname'
  gosbatch exec --json 'ls -la $SCRATCH'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().Bool("json", false, "Print the command record as JSON")
}

func runExec(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	text := strings.Join(args, " ")
	ctx := cmd.Context()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	issued, err := s.commands.Issue(ctx, text)
	if err != nil {
		return fail("Failed to start command", err)
	}
	observability.CLILogger.Debug("Command issued", zap.Int("id", issued.ID), zap.String("cmd", text))

	c, err := s.commands.Poll(ctx, issued.ID, command.PollOptions{Wait: true})
	if err != nil {
		return fail("Failed to wait for command", err)
	}

	if jsonOutput {
		if err := printJSON(os.Stdout, c); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprint(os.Stdout, c.Stdout)
		_, _ = fmt.Fprint(os.Stderr, c.Stderr)
	}

	if c.Status == command.StatusFailed {
		return exitError(foundry.ExitExternalServiceUnavailable, "Command failed", fmt.Errorf("exit status %d", c.ExitStatus))
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
