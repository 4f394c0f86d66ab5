package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/internal/observability"
	"github.com/3leaps/gosbatch/pkg/apps"
	"github.com/3leaps/gosbatch/pkg/transfer"
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Deploy and inspect application templates",
}

var appsDeployCmd = &cobra.Command{
	Use:   "deploy [local_app_dir]",
	Short: "Deploy an app to the cluster",
	Long: `Deploy an application template.

The local app dir holds app.json (rendered with project.ini if present) and an
assets/ directory that is uploaded as the app's contents. assets/ must contain
the entry point named by templatePath.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAppsDeploy,
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployed apps",
	Args:  cobra.NoArgs,
	RunE:  runAppsList,
}

var appsShowCmd = &cobra.Command{
	Use:   "show <app>",
	Short: "Show a deployed app manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runAppsShow,
}

func init() {
	rootCmd.AddCommand(appsCmd)
	appsCmd.AddCommand(appsDeployCmd, appsListCmd, appsShowCmd)

	appsDeployCmd.Flags().String("app-file", apps.ManifestFile, "App manifest file name")
	appsDeployCmd.Flags().String("project-file", "", "Project config used to render the app manifest (default: project.ini if present)")
	appsDeployCmd.Flags().Bool("overwrite", false, "Replace an app that is already deployed")
	appsDeployCmd.Flags().Bool("include-hidden", false, "Upload hidden files from assets/")
	appsDeployCmd.Flags().StringSlice("exclude", nil, "Exclude assets matching these glob patterns")
}

func runAppsDeploy(cmd *cobra.Command, args []string) error {
	appFile, _ := cmd.Flags().GetString("app-file")
	projectFile, _ := cmd.Flags().GetString("project-file")
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	includeHidden, _ := cmd.Flags().GetBool("include-hidden")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")

	xopts := transfer.Options{IncludeHidden: includeHidden, Exclude: exclude}
	if err := xopts.Validate(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --exclude pattern", err)
	}
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

	app, err := s.jobs.Apps().Deploy(ctx, localDir, apps.DeployOptions{
		AppFile:     appFile,
		ProjectFile: projectFile,
		Overwrite:   overwrite,
		Transfer:    xopts,
	})
	if err != nil {
		return fail("App deploy failed", err)
	}
	observability.CLILogger.Info("App deployed", zap.String("app", app.Name), zap.String("dir", s.jobs.Apps().AppDir(app.Name)))
	return printJSON(os.Stdout, app)
}

func runAppsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	names, err := s.jobs.Apps().List(ctx)
	if err != nil {
		return fail("Failed to list apps", err)
	}
	if len(names) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No apps found")
		return nil
	}
	for _, n := range names {
		_, _ = fmt.Fprintln(os.Stdout, n)
	}
	return nil
}

func runAppsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	app, err := s.jobs.Apps().Load(ctx, args[0])
	if err != nil {
		return fail("Failed to load app", err)
	}
	return printJSON(os.Stdout, app)
}
