package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	assert.Equal(t, "ssh", v.GetString("transport"))
	assert.Equal(t, 22, v.GetInt("connection.port"))
	assert.Equal(t, "$SCRATCH", v.GetString("remote.base_dir"))
	assert.Equal(t, "sbatch", v.GetString("scheduler.submit"))
	assert.Equal(t, "localhost", v.GetString("server.host"))
	assert.Equal(t, 8000, v.GetInt("server.port"))
	assert.Equal(t, "info", v.GetString("logging.level"))
	assert.Equal(t, "structured", v.GetString("logging.profile"))
	assert.Equal(t, "5m", v.GetString("heartbeat.interval"))
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("HOME", t.TempDir())

		cfg, err := Load(ctx, "")
		require.NoError(t, err)

		assert.Equal(t, "ssh", cfg.Transport)
		assert.Equal(t, 22, cfg.Connection.Port)
		assert.Equal(t, 30*time.Second, cfg.Connection.Timeout)
		assert.Equal(t, "gosbatch-jobs", cfg.Remote.JobsDir)
		assert.Equal(t, "gosbatch-apps", cfg.Remote.AppsDir)
		assert.Equal(t, "scancel", cfg.Scheduler.Cancel)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Heartbeat.Interval)
		assert.Equal(t, 10, cfg.Heartbeat.Head)
		assert.NotEmpty(t, cfg.DataDir)
	})

	t.Run("ConfigFile", func(t *testing.T) {
		dir := t.TempDir()
		p := filepath.Join(dir, "gosbatch.yaml")
		require.NoError(t, os.WriteFile(p, []byte(`
transport: local
remote:
  base_dir: /tmp/hpc
scheduler:
  submit: /opt/slurm/bin/sbatch
server:
  port: 9000
`), 0o644))

		cfg, err := Load(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, "local", cfg.Transport)
		assert.Equal(t, "/tmp/hpc", cfg.Remote.BaseDir)
		assert.Equal(t, "/opt/slurm/bin/sbatch", cfg.Scheduler.Submit)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "scancel", cfg.Scheduler.Cancel)
	})

	t.Run("SearchPath", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "gosbatch.yaml"), []byte("logging:\n  level: debug\n"), 0o644))

		cfg, err := Load(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := Load(ctx, filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("GOSBATCH_CONNECTION_HOST", "login1.example.org")
		t.Setenv("GOSBATCH_CONNECTION_PASSWORD", "hunter2")
		t.Setenv("GOSBATCH_SERVER_PORT", "3000")
		t.Setenv("GOSBATCH_HEARTBEAT_INTERVAL", "30s")

		cfg, err := Load(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "login1.example.org", cfg.Connection.Host)
		assert.Equal(t, "hunter2", cfg.Connection.Password)
		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("GOSBATCH_SERVER_PORT", "3000")

		cfg, err := Load(ctx, "", map[string]any{
			"transport": "LOCAL",
			"server":    map[string]any{"host": "0.0.0.0"},
		})
		require.NoError(t, err)
		assert.Equal(t, "local", cfg.Transport)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 3000, cfg.Server.Port)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Load(cctx, "")
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Transport:  "ssh",
			Connection: ConnectionConfig{Host: "login1", User: "alice", Port: 22},
			Remote:     RemoteConfig{JobsDir: "jobs", AppsDir: "apps"},
			Server:     ServerConfig{Port: 8000},
			Heartbeat:  HeartbeatConfig{Interval: time.Minute},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "local needs no host", mutate: func(c *Config) { c.Transport = "local"; c.Connection = ConnectionConfig{} }},
		{name: "unknown transport", mutate: func(c *Config) { c.Transport = "rsh" }, wantErr: "invalid transport"},
		{name: "missing host", mutate: func(c *Config) { c.Connection.Host = "" }, wantErr: "connection.host"},
		{name: "missing user", mutate: func(c *Config) { c.Connection.User = " " }, wantErr: "connection.user"},
		{name: "bad port", mutate: func(c *Config) { c.Connection.Port = 70000 }, wantErr: "connection.port"},
		{name: "missing jobs dir", mutate: func(c *Config) { c.Remote.JobsDir = "" }, wantErr: "remote.jobs_dir"},
		{name: "negative rate", mutate: func(c *Config) { c.Commands.OpenRate = -1 }, wantErr: "open_rate"},
		{name: "bad server port", mutate: func(c *Config) { c.Server.Port = -1 }, wantErr: "server.port"},
		{name: "zero heartbeat", mutate: func(c *Config) { c.Heartbeat.Interval = 0 }, wantErr: "heartbeat.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
