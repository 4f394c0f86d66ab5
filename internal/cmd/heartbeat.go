package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/internal/config"
	"github.com/3leaps/gosbatch/internal/observability"
	"github.com/3leaps/gosbatch/pkg/heartbeat"
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Probe a running gosbatch server at a fixed interval",
	Long: `Periodically list jobs through a running 'gosbatch serve' instance and
log the response time statistics after every probe.

The first probe runs immediately. Stops on Ctrl-C and prints a summary.

Examples:
  gosbatch heartbeat
  gosbatch heartbeat --url http://localhost:8000 --interval 30s`,
	Args: cobra.NoArgs,
	RunE: runHeartbeat,
}

func init() {
	rootCmd.AddCommand(heartbeatCmd)
	heartbeatCmd.Flags().String("url", "", "Server base URL (default: heartbeat.url)")
	heartbeatCmd.Flags().Duration("interval", 0, "Time between probes (default: heartbeat.interval)")
	heartbeatCmd.Flags().Int("head", 0, "Number of jobs requested per probe (default: heartbeat.head)")
}

func runHeartbeat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	// The probe never touches the cluster, so connection settings are not validated.
	cfg, err := config.Load(ctx, cfgFile)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to load configuration", err)
	}
	hb := cfg.Heartbeat
	if u, _ := cmd.Flags().GetString("url"); u != "" {
		hb.URL = u
	}
	if d, _ := cmd.Flags().GetDuration("interval"); d != 0 {
		hb.Interval = d
	}
	if n, _ := cmd.Flags().GetInt("head"); n != 0 {
		hb.Head = n
	}
	if hb.Interval <= 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --interval", fmt.Errorf("must be > 0, got %s", hb.Interval))
	}
	if hb.URL == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --url", fmt.Errorf("url is required"))
	}

	logger := observability.CLILogger
	stats := &heartbeat.Stats{}
	probe := jobsProbe(&http.Client{Timeout: hb.Interval}, hb.URL, hb.Head)

	logger.Info("Starting heartbeat",
		zap.String("url", hb.URL),
		zap.Duration("interval", hb.Interval),
		zap.Int("head", hb.Head))
	stop := heartbeat.Start(ctx, hb.Interval, probe, stats, logger)
	<-ctx.Done()
	stop()

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), stats.Summary().String())
	return nil
}

// jobsProbe returns a probe that lists the first head jobs from the server.
func jobsProbe(client *http.Client, baseURL string, head int) heartbeat.Probe {
	url := fmt.Sprintf("%s/jobs?head=%d", strings.TrimRight(baseURL, "/"), head)
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("GET %s: %s", url, resp.Status)
		}
		return nil
	}
}
