// Package config loads gosbatch configuration from defaults, an optional
// config file, GOSBATCH_* environment variables, and runtime overrides, in
// increasing order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override (GOSBATCH_CONNECTION_HOST).
	EnvPrefix = "GOSBATCH"

	// ConfigName is the config file base name searched for when no path is given.
	ConfigName = "gosbatch"
)

type Config struct {
	// Transport selects how commands reach the cluster: ssh or local.
	Transport string `mapstructure:"transport"`

	Connection ConnectionConfig `mapstructure:"connection"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Commands   CommandsConfig   `mapstructure:"commands"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat"`

	// DataDir is where downloaded job data lands by default.
	DataDir string `mapstructure:"data_dir"`
}

type ConnectionConfig struct {
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	User                  string        `mapstructure:"user"`
	KeyFile               string        `mapstructure:"key_file"`
	Password              string        `mapstructure:"password"`
	MFACode               string        `mapstructure:"mfa_code"`
	KnownHostsFile        string        `mapstructure:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key"`
	Timeout               time.Duration `mapstructure:"timeout"`
	KeepAlive             time.Duration `mapstructure:"keep_alive"`
}

// RemoteConfig locates the jobs and apps roots on the cluster. Relative
// JobsDir and AppsDir are joined to BaseDir, which is expanded by the
// remote shell (so $SCRATCH works).
type RemoteConfig struct {
	BaseDir string `mapstructure:"base_dir"`
	JobsDir string `mapstructure:"jobs_dir"`
	AppsDir string `mapstructure:"apps_dir"`

	// Shell runs commands for the local transport.
	Shell string `mapstructure:"shell"`
}

type SchedulerConfig struct {
	Submit      string `mapstructure:"submit"`
	Cancel      string `mapstructure:"cancel"`
	Queue       string `mapstructure:"queue"`
	Allocations string `mapstructure:"allocations"`
}

type CommandsConfig struct {
	OpenRate  float64 `mapstructure:"open_rate"`
	OpenBurst int     `mapstructure:"open_burst"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type HeartbeatConfig struct {
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
	Head     int           `mapstructure:"head"`
}

// SetDefaults registers every key with its default. Keys must be registered
// for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("transport", "ssh")
	v.SetDefault("data_dir", gfconfig.GetAppDataDir(ConfigName))

	v.SetDefault("connection.host", "")
	v.SetDefault("connection.port", 22)
	v.SetDefault("connection.user", "")
	v.SetDefault("connection.key_file", "")
	v.SetDefault("connection.password", "")
	v.SetDefault("connection.mfa_code", "")
	v.SetDefault("connection.known_hosts_file", "")
	v.SetDefault("connection.insecure_ignore_host_key", false)
	v.SetDefault("connection.timeout", "30s")
	v.SetDefault("connection.keep_alive", "60s")

	v.SetDefault("remote.base_dir", "$SCRATCH")
	v.SetDefault("remote.jobs_dir", "gosbatch-jobs")
	v.SetDefault("remote.apps_dir", "gosbatch-apps")
	v.SetDefault("remote.shell", "/bin/sh")

	v.SetDefault("scheduler.submit", "sbatch")
	v.SetDefault("scheduler.cancel", "scancel")
	v.SetDefault("scheduler.queue", "squeue -u")
	v.SetDefault("scheduler.allocations", "/usr/local/etc/taccinfo")

	v.SetDefault("commands.open_rate", 0)
	v.SetDefault("commands.open_burst", 1)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("heartbeat.url", "http://localhost:8000")
	v.SetDefault("heartbeat.interval", "5m")
	v.SetDefault("heartbeat.head", 10)
}

// Load builds a Config. An empty path searches ./gosbatch.* and
// $HOME/.config/gosbatch/gosbatch.*, and a missing file is not an error; an
// explicit path must exist.
func Load(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", ConfigName))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	for _, o := range overrides {
		if err := v.MergeConfigMap(o); err != nil {
			return nil, fmt.Errorf("apply config overrides: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	return &cfg, nil
}

// Validate checks the settings every command needs. Connection details are
// only required for the ssh transport.
func (c *Config) Validate() error {
	switch c.Transport {
	case "ssh":
		if strings.TrimSpace(c.Connection.Host) == "" {
			return fmt.Errorf("connection.host is required for the ssh transport")
		}
		if strings.TrimSpace(c.Connection.User) == "" {
			return fmt.Errorf("connection.user is required for the ssh transport")
		}
		if c.Connection.Port < 1 || c.Connection.Port > 65535 {
			return fmt.Errorf("invalid connection.port: %d", c.Connection.Port)
		}
	case "local":
	default:
		return fmt.Errorf("invalid transport %q (expected ssh or local)", c.Transport)
	}

	if strings.TrimSpace(c.Remote.JobsDir) == "" || strings.TrimSpace(c.Remote.AppsDir) == "" {
		return fmt.Errorf("remote.jobs_dir and remote.apps_dir are required")
	}
	if c.Commands.OpenRate < 0 {
		return fmt.Errorf("commands.open_rate must be >= 0")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be > 0")
	}
	return nil
}
