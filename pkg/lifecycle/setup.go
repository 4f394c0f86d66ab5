package lifecycle

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/pkg/apps"
	"github.com/3leaps/gosbatch/pkg/errdefs"
	"github.com/3leaps/gosbatch/pkg/jobstore"
	"github.com/3leaps/gosbatch/pkg/manifest"
	"github.com/3leaps/gosbatch/pkg/remotefs"
	"github.com/3leaps/gosbatch/pkg/render"
	"github.com/3leaps/gosbatch/pkg/transfer"
)

// SetupScript is run from the job directory after the app is copied in, when
// the app ships one.
const SetupScript = "setup.sh"

// SetupOptions controls Setup.
type SetupOptions struct {
	// BaseDir resolves relative input paths. Default: the working directory.
	BaseDir string
}

// SetupFromFile loads a job manifest from localDir, rendered with the project
// config, and sets the job up. Relative input paths resolve against localDir.
// The default project file may be absent.
func (c *Controller) SetupFromFile(ctx context.Context, localDir, jobFile, projectFile string) (jobstore.JobRecord, error) {
	vars := map[string]any{}
	if projectFile != "" {
		v, err := render.LoadProjectConfig(filepath.Join(localDir, projectFile))
		switch {
		case err == nil:
			vars = v
		case errdefs.IsNotFound(err) && projectFile == apps.ProjectFile:
		default:
			return jobstore.JobRecord{}, err
		}
	}
	spec, err := manifest.LoadJob(filepath.Join(localDir, jobFile), vars)
	if err != nil {
		return jobstore.JobRecord{}, err
	}
	return c.Setup(ctx, spec, SetupOptions{BaseDir: localDir})
}

// Setup creates a job working directory from spec and its app, stages
// inputs, renders the submit and wrapper scripts, and saves the record with
// setup_ts set.
//
// If any step after the directory is created fails, the directory is removed
// and the original error is returned.
func (c *Controller) Setup(ctx context.Context, spec *manifest.JobManifest, opts SetupOptions) (jobstore.JobRecord, error) {
	if err := checkArgNames(spec); err != nil {
		return jobstore.JobRecord{}, err
	}
	app, err := c.apps.Load(ctx, spec.AppID)
	if err != nil {
		return jobstore.JobRecord{}, err
	}

	setupTS := jobstore.Stamp(c.now())
	rec := newRecord(spec, app)
	rec.JobID = spec.Name + "_" + *setupTS
	rec.JobDir = c.store.JobDir(rec.JobID)
	rec.TS.SetupTS = setupTS
	if err := jobstore.ValidateJobID(rec.JobID); err != nil {
		return jobstore.JobRecord{}, err
	}

	if err := c.store.EnsureRoot(ctx); err != nil {
		return jobstore.JobRecord{}, err
	}
	exists, err := remotefs.Exists(ctx, c.fs, rec.JobDir)
	if err != nil {
		return jobstore.JobRecord{}, err
	}
	if exists {
		return jobstore.JobRecord{}, errdefs.Validation("job directory %s already exists", rec.JobDir)
	}
	// Plain mkdir fails if another setup won the race for the same id.
	if _, err := c.run(ctx, "mkdir %s", q(rec.JobDir)); err != nil {
		return jobstore.JobRecord{}, fmt.Errorf("create job dir for %s: %w", rec.JobID, err)
	}

	saved, err := c.populate(ctx, rec, app, opts)
	if err != nil {
		// Removal must run even when ctx is what failed.
		if _, rmErr := c.run(context.WithoutCancel(ctx), "rm -rf %s", q(rec.JobDir)); rmErr != nil {
			c.logger.Error("Failed to remove partial job dir", zap.String("job_id", rec.JobID), zap.Error(rmErr))
		}
		return jobstore.JobRecord{}, err
	}

	c.logger.Info("Job set up", zap.String("job_id", saved.JobID), zap.String("job_dir", saved.JobDir))
	return saved, nil
}

func (c *Controller) populate(ctx context.Context, rec jobstore.JobRecord, app *manifest.AppManifest, opts SetupOptions) (jobstore.JobRecord, error) {
	if _, err := c.run(ctx, "cp -r %s/. %s/", q(c.apps.AppDir(app.Name)), q(rec.JobDir)); err != nil {
		return rec, fmt.Errorf("copy app %s: %w", app.Name, err)
	}

	setupPath := path.Join(rec.JobDir, SetupScript)
	hasSetup, err := remotefs.Exists(ctx, c.fs, setupPath)
	if err != nil {
		return rec, err
	}
	if hasSetup {
		if _, err := c.run(ctx, "cd %s && chmod +x %s && %s %s", q(rec.JobDir), SetupScript, q(setupPath), q(rec.JobDir)); err != nil {
			return rec, fmt.Errorf("run %s: %w", SetupScript, err)
		}
	}

	body, err := c.apps.WrapperTemplate(ctx, app)
	if err != nil {
		return rec, err
	}

	args := []render.Arg{{Name: "NP", Value: fmt.Sprint(rec.ProcessorsPerNode)}}
	var names []string
	for _, name := range sortedKeys(rec.Inputs) {
		local := rec.Inputs[name]
		if !filepath.IsAbs(local) && opts.BaseDir != "" {
			local = filepath.Join(opts.BaseDir, local)
		}
		dest := path.Join(rec.JobDir, filepath.Base(local))
		if _, err := c.xfer.Upload(ctx, local, dest, transfer.Options{}); err != nil {
			return rec, fmt.Errorf("stage input %s: %w", name, err)
		}
		args = append(args, render.Arg{Name: name, Value: dest})
		names = append(names, name)
	}
	for _, name := range sortedKeys(rec.Parameters) {
		args = append(args, render.Arg{Name: name, Value: manifest.ParameterString(rec.Parameters[name])})
		names = append(names, name)
	}

	submit, err := render.SubmitScript(render.SubmitParams{
		JobID:             rec.JobID,
		Desc:              rec.Desc,
		JobDir:            rec.JobDir,
		Queue:             rec.Queue,
		NodeCount:         rec.NodeCount,
		ProcessorsPerNode: rec.ProcessorsPerNode,
		MaxRunTime:        rec.MaxRunTime,
		Email:             rec.Email,
		Allocation:        rec.Allocation,
		Args:              args,
	})
	if err != nil {
		return rec, err
	}
	wrapper, err := render.WrapperScript(render.WrapperParams{ArgNames: names, Body: body})
	if err != nil {
		return rec, err
	}

	for name, content := range map[string]string{
		render.SubmitScriptName:  submit,
		render.WrapperScriptName: wrapper,
	} {
		p := path.Join(rec.JobDir, name)
		if err := remotefs.WriteFile(ctx, c.fs, p, []byte(content)); err != nil {
			return rec, fmt.Errorf("write %s: %w", name, err)
		}
		if err := c.fs.Chmod(ctx, p, 0o755); err != nil {
			return rec, fmt.Errorf("chmod %s: %w", name, err)
		}
	}

	return c.store.Save(ctx, rec)
}

// newRecord fills a record from the job manifest, taking unset resource
// fields from the app defaults.
func newRecord(spec *manifest.JobManifest, app *manifest.AppManifest) jobstore.JobRecord {
	rec := jobstore.JobRecord{
		Name:              spec.Name,
		AppID:             spec.AppID,
		Desc:              firstNonEmpty(spec.Desc, app.ShortDescription),
		Queue:             firstNonEmpty(spec.Queue, app.DefaultQueue),
		NodeCount:         firstPositive(spec.NodeCount, app.DefaultNodeCount),
		ProcessorsPerNode: firstPositive(spec.ProcessorsPerNode, app.DefaultProcessorsPerNode),
		MaxRunTime:        firstNonEmpty(spec.MaxRunTime, app.DefaultMaxRunTime),
		Email:             spec.Email,
		Allocation:        spec.Allocation,
		Inputs:            map[string]string{},
		Parameters:        map[string]any{},
	}
	for k, v := range spec.Inputs {
		rec.Inputs[k] = v
	}
	for k, v := range spec.Parameters {
		rec.Parameters[k] = v
	}
	return rec
}

func checkArgNames(spec *manifest.JobManifest) error {
	if spec == nil {
		return errdefs.Validation("job manifest is nil")
	}
	if spec.Name == "" || spec.AppID == "" {
		return errdefs.Validation("job name and appId are required")
	}
	staged := map[string]string{
		render.SubmitScriptName:  "the submit script",
		render.WrapperScriptName: "the wrapper script",
		jobstore.ConfigFile:      "the job record",
	}
	for _, name := range spec.InputNames() {
		if !render.ValidArgName(name) {
			return errdefs.Validation("invalid input name %q", name)
		}
		// Inputs are staged flat into the job dir by base name.
		base := filepath.Base(spec.Inputs[name])
		if owner, taken := staged[base]; taken {
			return errdefs.Validation("input %s stages as %s, which collides with %s", name, base, owner)
		}
		staged[base] = "input " + name
	}
	for _, name := range spec.ParameterNames() {
		if !render.ValidArgName(name) {
			return errdefs.Validation("invalid parameter name %q", name)
		}
		if _, dup := spec.Inputs[name]; dup {
			return errdefs.Validation("%q is declared as both an input and a parameter", name)
		}
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstPositive(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
