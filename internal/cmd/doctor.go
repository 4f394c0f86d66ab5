package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/internal/config"
	"github.com/3leaps/gosbatch/internal/observability"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the local install and the cluster connection.

Examples:
  gosbatch doctor                     # Full check including a round trip to the cluster
  gosbatch doctor --transport local   # Check against the local shell`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) {
	observability.CLILogger.Info("=== gosbatch doctor ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 6

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible and gofulmen
	version := crucible.GetVersion()
	if version.Crucible != "" && version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ crucible v%s, gofulmen v%s", checkNum, totalChecks, version.Crucible, version.Gofulmen),
			zap.String("crucible_version", version.Crucible),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot read Crucible versions", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 3: Configuration
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ %v", checkNum, totalChecks, err))
		printConfigHelp()
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ transport=%s", checkNum, totalChecks, cfg.Transport),
			zap.String("host", cfg.Connection.Host),
			zap.String("user", cfg.Connection.User))
	}
	checkNum++

	// Check 4: Data directory
	if cfg != nil {
		if err := checkDataDir(cfg.DataDir); err != nil {
			observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ %s", checkNum, totalChecks, cfg.DataDir),
				zap.Error(err))
			allChecks = false
		} else {
			observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ %s", checkNum, totalChecks, cfg.DataDir))
		}
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking data directory... ⚠️  skipped (no configuration)", checkNum, totalChecks))
	}
	checkNum++

	// Check 5: Cluster round trip
	if cfg != nil {
		allChecks = checkCluster(cmd.Context(), cfg, checkNum, totalChecks) && allChecks
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking cluster connection... ⚠️  skipped (no configuration)", checkNum, totalChecks))
	}
	checkNum++

	// Check 6: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info("✅ All checks passed! Your gosbatch installation is healthy.")
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

// checkDataDir creates dir if needed and confirms it is writable.
func checkDataDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("data_dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func checkCluster(ctx context.Context, cfg *config.Config, checkNum, totalChecks int) bool {
	start := time.Now()
	s, err := newSession(ctx, cfg, observability.CLILogger)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking cluster connection... ❌ Cannot connect", checkNum, totalChecks),
			zap.Error(err))
		return false
	}
	defer func() { _ = s.Close() }()

	out, err := s.commands.Run(ctx, "hostname")
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking cluster connection... ❌ Command round trip failed", checkNum, totalChecks),
			zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking cluster connection... ✅ %s (%s)", checkNum, totalChecks,
		trimLine(out.Stdout), time.Since(start).Round(time.Millisecond)),
		zap.String("jobs_dir", s.jobs.Store().RootDir()),
		zap.String("apps_dir", s.jobs.Apps().RootDir()))
	return true
}

func trimLine(s string) string {
	for i, r := range s {
		if r == '\n' || r == '\r' {
			return s[:i]
		}
	}
	return s
}

func printConfigHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure the cluster connection:")
	observability.CLILogger.Info("  1. Create gosbatch.yaml with connection.host and connection.user, or")
	observability.CLILogger.Info("  2. Set GOSBATCH_CONNECTION_HOST and GOSBATCH_CONNECTION_USER, or")
	observability.CLILogger.Info("  3. Use --transport local to run against this machine")
	observability.CLILogger.Info("")
}
