package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gosbatch/pkg/apps"
	"github.com/3leaps/gosbatch/pkg/command"
	"github.com/3leaps/gosbatch/pkg/errdefs"
	"github.com/3leaps/gosbatch/pkg/jobstore"
	"github.com/3leaps/gosbatch/pkg/manifest"
	"github.com/3leaps/gosbatch/pkg/remotefs"
	"github.com/3leaps/gosbatch/pkg/render"
	"github.com/3leaps/gosbatch/pkg/transfer"
	"github.com/3leaps/gosbatch/pkg/transport"
)

const testApp = `{
  "name": "sim-1.0",
  "shortDescription": "Test simulation",
  "templatePath": "run.sh",
  "defaultQueue": "development",
  "defaultNodeCount": 1,
  "defaultProcessorsPerNode": 4,
  "defaultMaxRunTime": "00:10:00"
}`

type fixture struct {
	ctl   *Controller
	local string
	bin   string
	root  string
}

// tickingClock advances one second per call so back-to-back setups get
// distinct job ids.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

// failingRunner fails every command starting with prefix and passes the rest
// through.
type failingRunner struct {
	Runner
	prefix string
}

func (r failingRunner) Run(ctx context.Context, text string) (command.Command, error) {
	if strings.HasPrefix(text, r.prefix) {
		return command.Command{}, &command.CommandError{Cmd: text, ExitStatus: 1, Stderr: "Permission denied"}
	}
	return r.Runner.Run(ctx, text)
}

func newFixture(t *testing.T, sched Scheduler, now func() time.Time) *fixture {
	t.Helper()
	return newFixtureWithRunner(t, sched, now, nil)
}

// newFixtureWithRunner lets wrap decorate the controller's runner. Deploying
// the app still goes through the plain registry.
func newFixtureWithRunner(t *testing.T, sched Scheduler, now func() time.Time, wrap func(Runner) Runner) *fixture {
	t.Helper()
	ctx := context.Background()
	base := t.TempDir()
	root := filepath.ToSlash(filepath.Join(base, "remote"))
	bin := filepath.Join(base, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))

	if sched.Submit == "" {
		sched.Submit = writeScript(t, bin, "sbatch", `echo "Submitted batch job 4242"`)
	}
	if sched.Cancel == "" {
		sched.Cancel = writeScript(t, bin, "scancel", `exit 0`)
	}

	fsys := remotefs.NewLocal()
	reg := command.NewRegistry(transport.NewLocal(transport.LocalConfig{}), command.Options{})
	xfer := transfer.New(fsys, reg, nil)
	appMgr := apps.NewManager(fsys, xfer, root+"/apps", nil)

	appSrc := filepath.Join(base, "app")
	require.NoError(t, os.MkdirAll(filepath.Join(appSrc, apps.AssetsDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appSrc, apps.ManifestFile), []byte(testApp), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(appSrc, apps.AssetsDir, "run.sh"), []byte("echo running on $NP\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(appSrc, apps.AssetsDir, SetupScript), []byte("touch \"$1/setup_done\"\n"), 0o644))
	_, err := appMgr.Deploy(ctx, appSrc, apps.DeployOptions{})
	require.NoError(t, err)

	local := filepath.Join(base, "local")
	require.NoError(t, os.MkdirAll(local, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "mesh.txt"), []byte("line one\nline two\n"), 0o644))

	var runner Runner = reg
	if wrap != nil {
		runner = wrap(reg)
	}
	ctl := New(Deps{
		Runner:   runner,
		FS:       fsys,
		Store:    jobstore.NewStore(fsys, root+"/jobs", now),
		Apps:     appMgr,
		Transfer: xfer,
		Now:      now,
	}, sched)
	require.NoError(t, ctl.Init(ctx))
	return &fixture{ctl: ctl, local: local, bin: bin, root: root}
}

func (f *fixture) spec() *manifest.JobManifest {
	return &manifest.JobManifest{
		Name:       "sim",
		AppID:      "sim-1.0",
		Inputs:     map[string]string{"MESH": "mesh.txt"},
		Parameters: map[string]any{"STEPS": float64(10)},
	}
}

func (f *fixture) setup(t *testing.T) jobstore.JobRecord {
	t.Helper()
	rec, err := f.ctl.Setup(context.Background(), f.spec(), SetupOptions{BaseDir: f.local})
	require.NoError(t, err)
	return rec
}

func (f *fixture) submit(t *testing.T, rec jobstore.JobRecord) jobstore.JobRecord {
	t.Helper()
	rec, err := f.ctl.Submit(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

func startClock() func() time.Time {
	return tickingClock(time.Date(2026, 3, 4, 5, 6, 0, 0, time.UTC))
}

func TestSetup_StagesInputsAndScripts(t *testing.T) {
	f := newFixture(t, Scheduler{}, startClock())
	rec := f.setup(t)

	assert.Equal(t, "sim_20260304_050601", rec.JobID)
	assert.Equal(t, f.ctl.Store().JobDir(rec.JobID), rec.JobDir)
	require.NotNil(t, rec.TS.SetupTS)
	assert.Nil(t, rec.TS.SubmitTS)
	assert.Equal(t, "development", rec.Queue)
	assert.Equal(t, 4, rec.ProcessorsPerNode)

	staged, err := os.ReadFile(filepath.Join(rec.JobDir, "mesh.txt"))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(staged))

	for _, name := range []string{render.SubmitScriptName, render.WrapperScriptName, "run.sh", "setup_done", jobstore.ConfigFile} {
		_, err := os.Stat(filepath.Join(rec.JobDir, name))
		assert.NoError(t, err, name)
	}
	info, err := os.Stat(filepath.Join(rec.JobDir, render.WrapperScriptName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	submit, err := os.ReadFile(filepath.Join(rec.JobDir, render.SubmitScriptName))
	require.NoError(t, err)
	assert.Contains(t, string(submit), "#SBATCH -p development")
	assert.Contains(t, string(submit), "MESH="+rec.JobDir+"/mesh.txt")
	assert.Contains(t, string(submit), "STEPS=10")

	loaded, err := f.ctl.Load(context.Background(), rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}

func TestSetup_ExistingDirRejected(t *testing.T) {
	fixed := func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }
	f := newFixture(t, Scheduler{}, fixed)
	first := f.setup(t)

	_, err := f.ctl.Setup(context.Background(), f.spec(), SetupOptions{BaseDir: f.local})
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))

	// The first job is untouched.
	_, err = os.Stat(filepath.Join(first.JobDir, "mesh.txt"))
	assert.NoError(t, err)
}

func TestSetup_FailureRemovesJobDir(t *testing.T) {
	f := newFixture(t, Scheduler{}, startClock())
	spec := f.spec()
	spec.Inputs["MESH"] = "missing.txt"

	_, err := f.ctl.Setup(context.Background(), spec, SetupOptions{BaseDir: f.local})
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))

	ids, err := f.ctl.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSetup_Validation(t *testing.T) {
	f := newFixture(t, Scheduler{}, startClock())

	tests := []struct {
		name string
		spec *manifest.JobManifest
	}{
		{name: "nil", spec: nil},
		{name: "no app", spec: &manifest.JobManifest{Name: "sim"}},
		{name: "bad input name", spec: &manifest.JobManifest{Name: "sim", AppID: "sim-1.0", Inputs: map[string]string{"1X": "a"}}},
		{name: "reserved NP", spec: &manifest.JobManifest{Name: "sim", AppID: "sim-1.0", Parameters: map[string]any{"NP": 2}}},
		{name: "duplicate", spec: &manifest.JobManifest{Name: "sim", AppID: "sim-1.0", Inputs: map[string]string{"A": "a"}, Parameters: map[string]any{"A": 1}}},
		{name: "same input base name", spec: &manifest.JobManifest{Name: "sim", AppID: "sim-1.0", Inputs: map[string]string{"A": "a/data.txt", "B": "b/data.txt"}}},
		{name: "input shadows record", spec: &manifest.JobManifest{Name: "sim", AppID: "sim-1.0", Inputs: map[string]string{"A": "old/" + jobstore.ConfigFile}}},
		{name: "input shadows submit script", spec: &manifest.JobManifest{Name: "sim", AppID: "sim-1.0", Inputs: map[string]string{"A": render.SubmitScriptName}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctl.Setup(context.Background(), tt.spec, SetupOptions{})
			require.Error(t, err)
			assert.True(t, errdefs.IsValidation(err))
		})
	}

	_, err := f.ctl.Setup(context.Background(), &manifest.JobManifest{Name: "sim", AppID: "ghost"}, SetupOptions{})
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))

	ids, err := f.ctl.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSetup_SameBaseNameInputsRejected(t *testing.T) {
	f := newFixture(t, Scheduler{}, startClock())
	for _, dir := range []string{"a", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(f.local, dir), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(f.local, dir, "data.txt"), []byte(dir), 0o644))
	}
	spec := f.spec()
	spec.Inputs = map[string]string{"FIRST": "a/data.txt", "SECOND": "b/data.txt"}

	_, err := f.ctl.Setup(context.Background(), spec, SetupOptions{BaseDir: f.local})
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
	assert.Contains(t, err.Error(), "data.txt")

	ids, err := f.ctl.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	entries, err := os.ReadDir(filepath.FromSlash(f.root + "/jobs"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSubmit_RecordsSchedulerID(t *testing.T) {
	f := newFixture(t, Scheduler{}, startClock())
	rec := f.submit(t, f.setup(t))

	assert.Equal(t, "4242", rec.Slurm.SlurmID)
	require.NotNil(t, rec.TS.SubmitTS)
	assert.True(t, rec.Active())

	loaded, err := f.ctl.Load(context.Background(), rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, "4242", loaded.Slurm.SlurmID)
	assert.Equal(t, rec.TS.SubmitTS, loaded.TS.SubmitTS)
}

func TestSubmit_TwiceRejected(t *testing.T) {
	f := newFixture(t, Scheduler{}, startClock())
	rec := f.submit(t, f.setup(t))

	again, err := f.ctl.Submit(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
	assert.Equal(t, rec, again)
}

func TestSubmit_NotSetUp(t *testing.T) {
	f := newFixture(t, Scheduler{}, startClock())
	rec := f.setup(t)
	rec.TS.SetupTS = nil

	_, err := f.ctl.Submit(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
}

func TestSubmit_FailureSentinel(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{name: "FAILED id", script: `echo "Submitted batch job FAILED"`},
		{name: "empty output", script: `true`},
		{name: "non-zero exit", script: `echo "sbatch: error: invalid partition" >&2; exit 1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin := t.TempDir()
			f := newFixture(t, Scheduler{Submit: writeScript(t, bin, "sbatch", tt.script)}, startClock())
			rec := f.setup(t)

			got, err := f.ctl.Submit(context.Background(), rec)
			require.Error(t, err)
			assert.True(t, errdefs.IsCommandFailed(err))
			assert.Nil(t, got.TS.SubmitTS)
			assert.Empty(t, got.Slurm.SlurmID)

			loaded, err := f.ctl.Load(context.Background(), rec.JobID)
			require.NoError(t, err)
			assert.Nil(t, loaded.TS.SubmitTS)
			assert.Equal(t, got.Slurm.SbatchRet, loaded.Slurm.SbatchRet)
		})
	}
}

func TestCancel_ResetsTimestamps(t *testing.T) {
	f := newFixture(t, Scheduler{}, startClock())
	rec := f.submit(t, f.setup(t))

	rec, err := f.ctl.Cancel(context.Background(), rec)
	require.NoError(t, err)
	assert.Nil(t, rec.TS.SetupTS)
	assert.Nil(t, rec.TS.SubmitTS)
	assert.Nil(t, rec.TS.StartTS)
	assert.Nil(t, rec.TS.EndTS)
	assert.Empty(t, rec.Slurm.SlurmID)

	loaded, err := f.ctl.Load(context.Background(), rec.JobID)
	require.NoError(t, err)
	assert.Nil(t, loaded.TS.SetupTS)
	assert.Empty(t, loaded.Slurm.SlurmID)
}

func TestCancel_NotSubmitted(t *testing.T) {
	f := newFixture(t, Scheduler{}, startClock())
	rec := f.setup(t)

	got, err := f.ctl.Cancel(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
	assert.Equal(t, rec, got)

	loaded, err := f.ctl.Load(context.Background(), rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}

func TestCancel_CommandFailsLeavesRecord(t *testing.T) {
	bin := t.TempDir()
	f := newFixture(t, Scheduler{Cancel: writeScript(t, bin, "scancel", `echo "scancel: error" >&2; exit 1`)}, startClock())
	rec := f.submit(t, f.setup(t))

	got, err := f.ctl.Cancel(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errdefs.IsCommandFailed(err))
	assert.Equal(t, rec, got)

	loaded, err := f.ctl.Load(context.Background(), rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}

func TestCleanup(t *testing.T) {
	f := newFixture(t, Scheduler{}, startClock())
	rec := f.submit(t, f.setup(t))
	dir := rec.JobDir

	rec, err := f.ctl.Cleanup(context.Background(), rec)
	require.NoError(t, err)
	assert.Empty(t, rec.JobDir)
	assert.Empty(t, rec.Slurm.SlurmID)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// Cleaning an already cleaned record is a no-op.
	again, err := f.ctl.Cleanup(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, rec, again)
}

func TestCleanup_CancelFailureStillRemoves(t *testing.T) {
	bin := t.TempDir()
	f := newFixture(t, Scheduler{Cancel: writeScript(t, bin, "scancel", `exit 1`)}, startClock())
	rec := f.submit(t, f.setup(t))
	dir := rec.JobDir

	rec, err := f.ctl.Cleanup(context.Background(), rec)
	require.NoError(t, err)
	assert.Empty(t, rec.JobDir)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanup_RemoveFailsKeepsJob(t *testing.T) {
	f := newFixtureWithRunner(t, Scheduler{}, startClock(), func(r Runner) Runner {
		return failingRunner{Runner: r, prefix: "rm "}
	})
	rec := f.setup(t)

	got, err := f.ctl.Cleanup(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errdefs.IsCommandFailed(err))
	assert.Equal(t, rec, got)
	assert.Equal(t, rec.JobDir, got.JobDir)

	_, err = os.Stat(filepath.FromSlash(rec.JobDir))
	assert.NoError(t, err)
	loaded, err := f.ctl.Load(context.Background(), rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)
}

func TestCleanup_RejectsForeignDir(t *testing.T) {
	f := newFixture(t, Scheduler{}, startClock())
	rec := f.setup(t)
	rec.JobDir = f.root

	_, err := f.ctl.Cleanup(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, errdefs.IsValidation(err))
	_, err = os.Stat(f.root)
	assert.NoError(t, err)
}

func TestRefresh_ReadsMarkers(t *testing.T) {
	f := newFixture(t, Scheduler{}, startClock())
	rec := f.submit(t, f.setup(t))

	unchanged, err := f.ctl.Refresh(context.Background(), rec)
	require.NoError(t, err)
	assert.Nil(t, unchanged.TS.StartTS)

	for _, name := range []string{"start_2026-03-04T050700", "start_2026-03-04T050800", "end_2026-03-04T051000", "start_garbage"} {
		require.NoError(t, os.WriteFile(filepath.Join(rec.JobDir, name), nil, 0o644))
	}
	rec, err = f.ctl.Refresh(context.Background(), rec)
	require.NoError(t, err)
	require.NotNil(t, rec.TS.StartTS)
	require.NotNil(t, rec.TS.EndTS)
	assert.Equal(t, "20260304_050800", *rec.TS.StartTS)
	assert.Equal(t, "20260304_051000", *rec.TS.EndTS)

	loaded, err := f.ctl.Load(context.Background(), rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, rec.TS.EndTS, loaded.TS.EndTS)
}

func TestFiles_ListPeekGetSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Scheduler{}, startClock())
	rec := f.setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(rec.JobDir, "out.txt"), []byte("a\nb\nc\n"), 0o644))

	entries, err := f.ctl.ListFiles(ctx, rec, "")
	require.NoError(t, err)
	assert.Contains(t, remotefs.Names(entries), "out.txt")

	head, err := f.ctl.Peek(ctx, rec, "out.txt", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "a\n", head)
	tail, err := f.ctl.Peek(ctx, rec, "out.txt", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "c\n", tail)
	all, err := f.ctl.Peek(ctx, rec, "out.txt", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", all)

	_, err = f.ctl.Peek(ctx, rec, "nope.txt", 0, 0)
	assert.True(t, errdefs.IsNotFound(err))
	_, err = f.ctl.Peek(ctx, rec, "../../etc/passwd", 0, 0)
	assert.True(t, errdefs.IsValidation(err))

	dest := t.TempDir()
	got, err := f.ctl.GetData(ctx, rec, "out.txt", dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, rec.JobID, "out.txt"), got)
	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(data))

	extra := filepath.Join(t.TempDir(), "extra.dat")
	require.NoError(t, os.WriteFile(extra, []byte("x"), 0o644))
	sent, err := f.ctl.SendData(ctx, rec, extra, "")
	require.NoError(t, err)
	assert.Equal(t, rec.JobDir+"/extra.dat", sent)
	data, err = os.ReadFile(sent)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestQueueAndAllocations(t *testing.T) {
	f := newFixture(t, Scheduler{Queue: "echo queue for", Allocations: "echo 'SU balance: 100'"}, startClock())

	out, err := f.ctl.Queue(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "queue for alice\n", out)

	_, err = f.ctl.Queue(context.Background(), " ")
	assert.True(t, errdefs.IsValidation(err))

	out, err = f.ctl.Allocations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SU balance: 100\n", out)
}

func TestParseJobID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Submitted batch job 12345\n", want: "12345"},
		{in: "-> checking\nSubmitted batch job 7\n\n", want: "7"},
		{in: "", want: ""},
		{in: "FAILED", want: "FAILED"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseJobID(tt.in), tt.in)
	}
}
