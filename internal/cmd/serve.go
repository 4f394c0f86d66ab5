package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/internal/observability"
	"github.com/3leaps/gosbatch/internal/server"
	"github.com/3leaps/gosbatch/internal/server/handlers"
	"github.com/3leaps/gosbatch/pkg/command"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job API over HTTP",
	Long: `Connect to the cluster once and serve jobs, apps, and commands over HTTP.

Endpoints:
  GET    /health, /health/live, /health/ready, /health/startup, /version
  GET    /jobs?head=N              list job ids
  GET    /jobs/{id}                job record
  POST   /jobs/{id}/submit|cancel|refresh
  DELETE /jobs/{id}                cleanup
  GET    /jobs/{id}/files?path=    list files
  GET    /jobs/{id}/peek?path=&head=&tail=
  GET    /apps, /apps/{name}, /queue?user=, /allocations
  POST   /commands {"cmd": "..."}  issue a command
  GET    /commands, /commands/{id}?wait=&max_bytes=`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (default: server.host)")
	serveCmd.Flags().Int("port", 0, "Listen port (default: server.port)")
}

// transportChecker runs a no-op command to prove the connection is alive.
type transportChecker struct {
	commands *command.Registry
}

func (c transportChecker) CheckHealth(ctx context.Context) error {
	_, err := c.commands.Run(ctx, "true")
	return err
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if h, _ := cmd.Flags().GetString("host"); h != "" {
		cfg.Server.Host = h
	}
	if p, _ := cmd.Flags().GetInt("port"); p != 0 {
		cfg.Server.Port = p
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	s, err := newSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("transport", transportChecker{commands: s.commands})

	srv := server.New(cfg.Server.Host, cfg.Server.Port, server.Options{
		API:          &handlers.API{Jobs: s.jobs, Commands: s.commands, Logger: logger},
		Version:      server.VersionInfo{Version: versionInfo.Version, Commit: versionInfo.Commit, BuildDate: versionInfo.BuildDate},
		Logger:       logger,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})
	logger.Info("Starting server", zap.String("host", cfg.Server.Host), zap.Int("port", cfg.Server.Port))
	if err := srv.ListenAndServe(ctx, cfg.Server.ShutdownTimeout); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "Server stopped", fmt.Errorf("interrupted: %w", ctx.Err()))
	}
	return nil
}
