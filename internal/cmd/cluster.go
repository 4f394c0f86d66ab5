package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the SLURM queue for a user",
	Args:  cobra.NoArgs,
	RunE:  runQueue,
}

var allocationsCmd = &cobra.Command{
	Use:   "allocations",
	Short: "Show the account's allocations",
	Args:  cobra.NoArgs,
	RunE:  runAllocations,
}

func init() {
	rootCmd.AddCommand(queueCmd, allocationsCmd)
	queueCmd.Flags().String("user", "", "User whose jobs to show (default: connection.user)")
}

func runQueue(cmd *cobra.Command, _ []string) error {
	user, _ := cmd.Flags().GetString("user")
	ctx := cmd.Context()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	if user == "" {
		user = s.cfg.Connection.User
	}

	out, err := s.jobs.Queue(ctx, user)
	if err != nil {
		return fail("Failed to read queue", err)
	}
	_, _ = fmt.Fprint(os.Stdout, out)
	return nil
}

func runAllocations(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	out, err := s.jobs.Allocations(ctx)
	if err != nil {
		return fail("Failed to read allocations", err)
	}
	_, _ = fmt.Fprint(os.Stdout, out)
	return nil
}
