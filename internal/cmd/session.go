package cmd

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/internal/config"
	"github.com/3leaps/gosbatch/internal/observability"
	"github.com/3leaps/gosbatch/pkg/apps"
	"github.com/3leaps/gosbatch/pkg/command"
	"github.com/3leaps/gosbatch/pkg/errdefs"
	"github.com/3leaps/gosbatch/pkg/jobstore"
	"github.com/3leaps/gosbatch/pkg/lifecycle"
	"github.com/3leaps/gosbatch/pkg/remotefs"
	"github.com/3leaps/gosbatch/pkg/transfer"
	"github.com/3leaps/gosbatch/pkg/transport"
)

// session is one connection to the cluster and everything built on it.
type session struct {
	cfg       *config.Config
	transport transport.Transport
	fs        remotefs.FS
	commands  *command.Registry
	transfer  *transfer.Transfer
	jobs      *lifecycle.Controller
	logger    *zap.Logger
}

func loadConfig(ctx context.Context) (*config.Config, error) {
	var overrides []map[string]any
	if transportFlag != "" {
		overrides = append(overrides, map[string]any{"transport": transportFlag})
	}
	cfg, err := config.Load(ctx, cfgFile, overrides...)
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to load configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	return cfg, nil
}

// openSession connects, resolves the remote roots, and creates them if needed.
// The caller must Close the session.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return newSession(ctx, cfg, observability.CLILogger)
}

func newSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*session, error) {
	s := &session{cfg: cfg, logger: logger}

	switch cfg.Transport {
	case "local":
		s.transport = transport.NewLocal(transport.LocalConfig{Shell: cfg.Remote.Shell})
		s.fs = remotefs.NewLocal()
	case "ssh":
		conn, err := transport.DialSSH(ctx, transport.SSHConfig{
			Host:                  cfg.Connection.Host,
			Port:                  cfg.Connection.Port,
			User:                  cfg.Connection.User,
			KeyFile:               cfg.Connection.KeyFile,
			Password:              cfg.Connection.Password,
			MFACode:               cfg.Connection.MFACode,
			KnownHostsFile:        cfg.Connection.KnownHostsFile,
			InsecureIgnoreHostKey: cfg.Connection.InsecureIgnoreHostKey,
			Timeout:               cfg.Connection.Timeout,
			KeepAlive:             cfg.Connection.KeepAlive,
		}, logger)
		if err != nil {
			return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to cluster", err)
		}
		fsys, err := remotefs.NewSFTP(conn.Client())
		if err != nil {
			_ = conn.Close()
			return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to start SFTP", err)
		}
		s.transport = conn
		s.fs = fsys
	default:
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid transport", fmt.Errorf("%q", cfg.Transport))
	}

	s.commands = command.NewRegistry(s.transport, command.Options{
		OpenRate:  cfg.Commands.OpenRate,
		OpenBurst: cfg.Commands.OpenBurst,
		Logger:    logger,
	})
	s.transfer = transfer.New(s.fs, s.commands, logger)

	jobsRoot, err := s.resolveRoot(ctx, cfg.Remote.JobsDir)
	if err != nil {
		_ = s.Close()
		return nil, fail("Failed to resolve jobs dir", err)
	}
	appsRoot, err := s.resolveRoot(ctx, cfg.Remote.AppsDir)
	if err != nil {
		_ = s.Close()
		return nil, fail("Failed to resolve apps dir", err)
	}

	s.jobs = lifecycle.New(lifecycle.Deps{
		Runner:   s.commands,
		FS:       s.fs,
		Store:    jobstore.NewStore(s.fs, jobsRoot, nil),
		Apps:     apps.NewManager(s.fs, s.transfer, appsRoot, logger),
		Transfer: s.transfer,
		Logger:   logger,
	}, lifecycle.Scheduler{
		Submit:      cfg.Scheduler.Submit,
		Cancel:      cfg.Scheduler.Cancel,
		Queue:       cfg.Scheduler.Queue,
		Allocations: cfg.Scheduler.Allocations,
	})
	if err := s.jobs.Init(ctx); err != nil {
		_ = s.Close()
		return nil, fail("Failed to create remote dirs", err)
	}

	logger.Debug("Session ready",
		zap.String("transport", cfg.Transport),
		zap.String("jobs_dir", jobsRoot),
		zap.String("apps_dir", appsRoot))
	return s, nil
}

// resolveRoot returns dir if absolute, otherwise dir under the base dir as
// expanded by the remote shell.
func (s *session) resolveRoot(ctx context.Context, dir string) (string, error) {
	if path.IsAbs(dir) {
		return path.Clean(dir), nil
	}
	base := strings.TrimSpace(s.cfg.Remote.BaseDir)
	if base == "" {
		return "", errdefs.Validation("remote.base_dir is required for relative dir %q", dir)
	}
	// Unquoted so the remote shell expands variables like $SCRATCH.
	out, err := s.commands.Run(ctx, "echo "+base)
	if err != nil {
		return "", err
	}
	expanded := strings.TrimSpace(out.Stdout)
	if expanded == "" || !path.IsAbs(expanded) {
		return "", errdefs.Validation("remote.base_dir %q expands to %q, want an absolute path", base, expanded)
	}
	return path.Join(expanded, dir), nil
}

func (s *session) Close() error {
	var errs []error
	if s.fs != nil {
		errs = append(errs, s.fs.Close())
	}
	if s.transport != nil {
		errs = append(errs, s.transport.Close())
	}
	return errors.Join(errs...)
}
