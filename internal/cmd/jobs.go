package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/internal/observability"
	"github.com/3leaps/gosbatch/pkg/apps"
	"github.com/3leaps/gosbatch/pkg/jobstore"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Set up, submit, and manage SLURM jobs",
	Long: `Manage jobs on the cluster.

A job moves through setup -> submit -> (running) -> done, and can be
cancelled or cleaned up. Every step is recorded in <job_dir>/job_config.json,
so any command can pick a job up again by id.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job ids",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show a job record",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsSetupCmd = &cobra.Command{
	Use:   "setup [local_job_dir]",
	Short: "Create a job working directory from a job manifest",
	Long: `Create a job working directory on the cluster.

Reads <local_job_dir>/job.json (rendered with project.ini if present), copies
the app in, stages the declared inputs, and writes the submit and wrapper
scripts. Prints the new job record.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobsSetup,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit <job_id>",
	Short: "Submit a set-up job to SLURM",
	Args:  cobra.ExactArgs(1),
	RunE:  jobStep("submit"),
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Cancel a submitted job",
	Args:  cobra.ExactArgs(1),
	RunE:  jobStep("cancel"),
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup <job_id>",
	Short: "Cancel a job if needed and remove its working directory",
	Args:  cobra.ExactArgs(1),
	RunE:  jobStep("cleanup"),
}

var jobsRefreshCmd = &cobra.Command{
	Use:   "refresh <job_id>",
	Short: "Update start and end times from the job's marker files",
	Args:  cobra.ExactArgs(1),
	RunE:  jobStep("refresh"),
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls <job_id> [path]",
	Short: "List files in a job directory",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runJobsLs,
}

var jobsPeekCmd = &cobra.Command{
	Use:   "peek <job_id> <path>",
	Short: "Print the head or tail of a job file",
	Args:  cobra.ExactArgs(2),
	RunE:  runJobsPeek,
}

var jobsSendCmd = &cobra.Command{
	Use:   "send <job_id> <local_path>",
	Short: "Upload a file or directory into a job directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runJobsSend,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job_id> <path>",
	Short: "Download a file or directory from a job directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runJobsGet,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsSetupCmd, jobsSubmitCmd, jobsCancelCmd,
		jobsCleanupCmd, jobsRefreshCmd, jobsLsCmd, jobsPeekCmd, jobsSendCmd, jobsGetCmd)

	jobsListCmd.Flags().Int("head", 0, "Show only the first N jobs (0 = all)")
	jobsSetupCmd.Flags().String("job-file", "job.json", "Job manifest file name inside the local job dir")
	jobsSetupCmd.Flags().String("project-file", apps.ProjectFile, "Project config used to render the job manifest")
	jobsPeekCmd.Flags().Int("head", 0, "Print the first N lines")
	jobsPeekCmd.Flags().Int("tail", 0, "Print the last N lines")
	jobsSendCmd.Flags().String("dest", "", "Destination directory inside the job dir")
	jobsGetCmd.Flags().String("dest", "", "Local destination directory (default: data_dir from config)")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	head, _ := cmd.Flags().GetInt("head")
	ctx := cmd.Context()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ids, err := s.jobs.List(ctx)
	if err != nil {
		return fail("Failed to list jobs", err)
	}
	if len(ids) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}
	if head > 0 && head < len(ids) {
		ids = ids[:head]
	}
	for _, id := range ids {
		_, _ = fmt.Fprintln(os.Stdout, id)
	}
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	rec, err := s.jobs.Load(ctx, strings.TrimSpace(args[0]))
	if err != nil {
		return fail("Failed to load job", err)
	}
	return printJSON(os.Stdout, rec)
}

func runJobsSetup(cmd *cobra.Command, args []string) error {
	jobFile, _ := cmd.Flags().GetString("job-file")
	projectFile, _ := cmd.Flags().GetString("project-file")
	localDir := "."
	if len(args) == 1 {
		localDir = args[0]
	}
	ctx := cmd.Context()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	rec, err := s.jobs.SetupFromFile(ctx, localDir, jobFile, projectFile)
	if err != nil {
		return fail("Job setup failed", err)
	}
	observability.CLILogger.Info("Job set up", zap.String("job_id", rec.JobID), zap.String("job_dir", rec.JobDir))
	return printJSON(os.Stdout, rec)
}

// jobStep runs one record-to-record lifecycle step and prints the result.
func jobStep(step string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		rec, err := s.jobs.Load(ctx, strings.TrimSpace(args[0]))
		if err != nil {
			return fail("Failed to load job", err)
		}

		var next jobstore.JobRecord
		switch step {
		case "submit":
			next, err = s.jobs.Submit(ctx, rec)
		case "cancel":
			next, err = s.jobs.Cancel(ctx, rec)
		case "cleanup":
			next, err = s.jobs.Cleanup(ctx, rec)
		case "refresh":
			next, err = s.jobs.Refresh(ctx, rec)
		default:
			return exitError(foundry.ExitInvalidArgument, "Unknown job step", fmt.Errorf("%q", step))
		}
		if err != nil {
			if next.Slurm.SbatchRet != "" {
				_, _ = fmt.Fprintln(os.Stderr, next.Slurm.SbatchRet)
			}
			return fail(fmt.Sprintf("Job %s failed", step), err)
		}
		return printJSON(os.Stdout, next)
	}
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	rel := ""
	if len(args) == 2 {
		rel = args[1]
	}
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	rec, err := s.jobs.Load(ctx, args[0])
	if err != nil {
		return fail("Failed to load job", err)
	}
	entries, err := s.jobs.ListFiles(ctx, rec, rel)
	if err != nil {
		return fail("Failed to list job files", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "NAME\tSIZE\tMODE\tMODIFIED")
	for _, e := range entries {
		name := e.Name
		if e.IsDir {
			name += "/"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", name, e.Size, e.Mode, e.ModTime.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runJobsPeek(cmd *cobra.Command, args []string) error {
	head, _ := cmd.Flags().GetInt("head")
	tail, _ := cmd.Flags().GetInt("tail")
	if head < 0 || tail < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --head/--tail value", fmt.Errorf("must be >= 0"))
	}
	if head > 0 && tail > 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --head/--tail value", fmt.Errorf("use only one of --head and --tail"))
	}
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	rec, err := s.jobs.Load(ctx, args[0])
	if err != nil {
		return fail("Failed to load job", err)
	}
	out, err := s.jobs.Peek(ctx, rec, args[1], head, tail)
	if err != nil {
		return fail("Failed to read job file", err)
	}
	_, _ = fmt.Fprint(os.Stdout, out)
	return nil
}

func runJobsSend(cmd *cobra.Command, args []string) error {
	dest, _ := cmd.Flags().GetString("dest")
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	rec, err := s.jobs.Load(ctx, args[0])
	if err != nil {
		return fail("Failed to load job", err)
	}
	remote, err := s.jobs.SendData(ctx, rec, args[1], dest)
	if err != nil {
		return fail("Failed to send data", err)
	}
	_, _ = fmt.Fprintln(os.Stdout, remote)
	return nil
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	dest, _ := cmd.Flags().GetString("dest")
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	if dest == "" {
		dest = s.cfg.DataDir
	}

	rec, err := s.jobs.Load(ctx, args[0])
	if err != nil {
		return fail("Failed to load job", err)
	}
	local, err := s.jobs.GetData(ctx, rec, args[1], dest)
	if err != nil {
		return fail("Failed to get data", err)
	}
	_, _ = fmt.Fprintln(os.Stdout, local)
	return nil
}
