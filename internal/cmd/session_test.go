package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/internal/config"
	"github.com/3leaps/gosbatch/pkg/errdefs"
)

func localConfig(t *testing.T, base string) *config.Config {
	t.Helper()
	return &config.Config{
		Transport: "local",
		Remote: config.RemoteConfig{
			BaseDir: base,
			JobsDir: "jobs",
			AppsDir: filepath.Join(base, "apps-abs"),
			Shell:   "/bin/sh",
		},
		Commands: config.CommandsConfig{OpenBurst: 1},
		DataDir:  filepath.Join(base, "data"),
	}
}

func TestNewSession_Local(t *testing.T) {
	base := t.TempDir()
	s, err := newSession(context.Background(), localConfig(t, base), zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.Equal(t, filepath.Join(base, "jobs"), s.jobs.Store().RootDir())
	assert.Equal(t, filepath.Join(base, "apps-abs"), s.jobs.Apps().RootDir())

	for _, dir := range []string{"jobs", "apps-abs"} {
		info, err := os.Stat(filepath.Join(base, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	ids, err := s.jobs.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNewSession_InvalidTransport(t *testing.T) {
	cfg := localConfig(t, t.TempDir())
	cfg.Transport = "carrier-pigeon"

	_, err := newSession(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid transport")
}

func TestResolveRoot(t *testing.T) {
	base := t.TempDir()
	s, err := newSession(context.Background(), localConfig(t, base), zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	t.Run("absolute dir kept", func(t *testing.T) {
		got, err := s.resolveRoot(ctx, "/srv/jobs/../jobs")
		require.NoError(t, err)
		assert.Equal(t, "/srv/jobs", got)
	})

	t.Run("relative dir joined to expanded base", func(t *testing.T) {
		t.Setenv("GOSBATCH_TEST_BASE", base)
		s.cfg.Remote.BaseDir = "$GOSBATCH_TEST_BASE"
		defer func() { s.cfg.Remote.BaseDir = base }()

		got, err := s.resolveRoot(ctx, "jobs")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "jobs"), got)
	})

	t.Run("base expands to nothing", func(t *testing.T) {
		s.cfg.Remote.BaseDir = "$GOSBATCH_UNSET_VARIABLE_FOR_TEST"
		defer func() { s.cfg.Remote.BaseDir = base }()

		_, err := s.resolveRoot(ctx, "jobs")
		require.Error(t, err)
		assert.True(t, errdefs.IsValidation(err))
	})

	t.Run("empty base", func(t *testing.T) {
		s.cfg.Remote.BaseDir = "  "
		defer func() { s.cfg.Remote.BaseDir = base }()

		_, err := s.resolveRoot(ctx, "jobs")
		assert.True(t, errdefs.IsValidation(err))
	})
}
