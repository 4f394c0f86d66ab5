// Package apps deploys and reads applications on the cluster.
//
// A deployed application is a directory under the apps root holding the
// contents of the local app's assets/ directory plus its rendered app.json.
// Jobs copy the whole directory into their working directory at setup.
package apps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/pkg/errdefs"
	"github.com/3leaps/gosbatch/pkg/manifest"
	"github.com/3leaps/gosbatch/pkg/remotefs"
	"github.com/3leaps/gosbatch/pkg/render"
	"github.com/3leaps/gosbatch/pkg/transfer"
)

const (
	// ManifestFile is the app manifest name, locally and when deployed.
	ManifestFile = "app.json"

	// ProjectFile is the default project config rendered into app.json.
	ProjectFile = "project.ini"

	// AssetsDir is the local directory uploaded as the app's contents.
	AssetsDir = "assets"
)

type Manager struct {
	fs     remotefs.FS
	xfer   *transfer.Transfer
	root   string
	logger *zap.Logger
}

func NewManager(fsys remotefs.FS, xfer *transfer.Transfer, root string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{fs: fsys, xfer: xfer, root: root, logger: logger}
}

func (m *Manager) RootDir() string { return m.root }

func (m *Manager) AppDir(name string) string { return path.Join(m.root, name) }

// EnsureRoot creates the apps root if needed.
func (m *Manager) EnsureRoot(ctx context.Context) error {
	return m.fs.MkdirAll(ctx, m.root)
}

// DeployOptions controls Deploy. Empty file names use the defaults.
type DeployOptions struct {
	AppFile     string
	ProjectFile string

	// Overwrite replaces an app that is already deployed.
	Overwrite bool

	Transfer transfer.Options
}

// Deploy renders <localDir>/app.json with the project config, uploads
// <localDir>/assets to the app's directory, and writes the rendered manifest
// next to it.
//
// A missing default project file renders with no variables; a missing
// explicitly named one is an error.
func (m *Manager) Deploy(ctx context.Context, localDir string, opts DeployOptions) (*manifest.AppManifest, error) {
	vars, err := m.projectVars(localDir, opts.ProjectFile)
	if err != nil {
		return nil, err
	}

	appFile := opts.AppFile
	if appFile == "" {
		appFile = ManifestFile
	}
	app, err := manifest.LoadApp(filepath.Join(localDir, appFile), vars)
	if err != nil {
		return nil, err
	}

	assets := filepath.Join(localDir, AssetsDir)
	if _, err := os.Stat(filepath.Join(assets, filepath.FromSlash(app.TemplatePath))); err != nil {
		return nil, errdefs.Validation("app %s: entry point %s not found under %s", app.Name, app.TemplatePath, assets)
	}

	deployed, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if slices.Contains(deployed, app.Name) && !opts.Overwrite {
		return nil, errdefs.Validation("app %s already exists and overwrite is not set", app.Name)
	}

	if err := m.EnsureRoot(ctx); err != nil {
		return nil, err
	}
	appDir := m.AppDir(app.Name)
	if _, err := m.xfer.Upload(ctx, assets, appDir, opts.Transfer); err != nil {
		return nil, fmt.Errorf("upload app %s: %w", app.Name, err)
	}

	b, err := json.MarshalIndent(app, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal app manifest: %w", err)
	}
	if err := remotefs.WriteFileAtomic(ctx, m.fs, path.Join(appDir, ManifestFile), append(b, '\n')); err != nil {
		return nil, fmt.Errorf("save app manifest for %s (retry the deploy): %w", app.Name, err)
	}

	m.logger.Info("Deployed app", zap.String("app", app.Name), zap.String("dir", appDir))
	return app, nil
}

func (m *Manager) projectVars(localDir, projectFile string) (map[string]any, error) {
	explicit := projectFile != ""
	if !explicit {
		projectFile = ProjectFile
	}
	vars, err := render.LoadProjectConfig(filepath.Join(localDir, projectFile))
	if err != nil {
		if errdefs.IsNotFound(err) && !explicit {
			return map[string]any{}, nil
		}
		return nil, err
	}
	return vars, nil
}

// List returns the names of deployed apps in sorted order.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	entries, err := m.fs.ReadDir(ctx, m.root)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read apps root: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			out = append(out, e.Name)
		}
	}
	return out, nil
}

// Load reads the deployed manifest of app name.
func (m *Manager) Load(ctx context.Context, name string) (*manifest.AppManifest, error) {
	if name == "" || name != path.Base(name) || name == ".." {
		return nil, errdefs.Validation("invalid app name %q", name)
	}
	b, err := remotefs.ReadFile(ctx, m.fs, path.Join(m.AppDir(name), ManifestFile))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, errdefs.NotFound("app %s", name)
		}
		return nil, err
	}
	return manifest.LoadAppFromBytes(b, ManifestFile)
}

// WrapperTemplate returns the entry-point script of a deployed app.
func (m *Manager) WrapperTemplate(ctx context.Context, app *manifest.AppManifest) (string, error) {
	p := path.Join(m.AppDir(app.Name), app.TemplatePath)
	b, err := remotefs.ReadFile(ctx, m.fs, p)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", errdefs.NotFound("app %s entry point %s", app.Name, p)
		}
		return "", err
	}
	return string(b), nil
}
