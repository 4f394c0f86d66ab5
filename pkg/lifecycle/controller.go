// Package lifecycle sequences the setup, submit, cancel, and cleanup of SLURM
// jobs over a shared command runner and remote filesystem.
//
// Job records are values: every operation takes the current record and
// returns the updated one. After each mutating step the record is persisted
// with the job store, so a restarted process can reload any job by id.
package lifecycle

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/pkg/apps"
	"github.com/3leaps/gosbatch/pkg/command"
	"github.com/3leaps/gosbatch/pkg/errdefs"
	"github.com/3leaps/gosbatch/pkg/jobstore"
	"github.com/3leaps/gosbatch/pkg/remotefs"
	"github.com/3leaps/gosbatch/pkg/transfer"
)

// Runner runs a shell command on the cluster and waits for it to finish. A
// command that ends FAILED is returned with a *command.CommandError.
type Runner interface {
	Run(ctx context.Context, text string) (command.Command, error)
}

// Scheduler names the commands used to talk to SLURM.
type Scheduler struct {
	// Submit is run as "<Submit> submit_script.sh" inside the job directory.
	Submit string

	// Cancel is run as "<Cancel> <slurm id>".
	Cancel string

	// Queue is run as "<Queue> <user>".
	Queue string

	Allocations string
}

// DefaultScheduler returns the stock SLURM commands.
func DefaultScheduler() Scheduler {
	return Scheduler{
		Submit:      "sbatch",
		Cancel:      "scancel",
		Queue:       "squeue -u",
		Allocations: "/usr/local/etc/taccinfo",
	}
}

func (s Scheduler) withDefaults() Scheduler {
	d := DefaultScheduler()
	if strings.TrimSpace(s.Submit) == "" {
		s.Submit = d.Submit
	}
	if strings.TrimSpace(s.Cancel) == "" {
		s.Cancel = d.Cancel
	}
	if strings.TrimSpace(s.Queue) == "" {
		s.Queue = d.Queue
	}
	if strings.TrimSpace(s.Allocations) == "" {
		s.Allocations = d.Allocations
	}
	return s
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Runner   Runner
	FS       remotefs.FS
	Store    *jobstore.Store
	Apps     *apps.Manager
	Transfer *transfer.Transfer
	Logger   *zap.Logger

	// Now overrides the clock used for job ids and timestamps.
	Now func() time.Time
}

type Controller struct {
	runner Runner
	fs     remotefs.FS
	store  *jobstore.Store
	apps   *apps.Manager
	xfer   *transfer.Transfer
	sched  Scheduler
	logger *zap.Logger
	now    func() time.Time
}

func New(deps Deps, sched Scheduler) *Controller {
	c := &Controller{
		runner: deps.Runner,
		fs:     deps.FS,
		store:  deps.Store,
		apps:   deps.Apps,
		xfer:   deps.Transfer,
		sched:  sched.withDefaults(),
		logger: deps.Logger,
		now:    deps.Now,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Store exposes the job store backing the controller.
func (c *Controller) Store() *jobstore.Store { return c.store }

// Apps exposes the app manager backing the controller.
func (c *Controller) Apps() *apps.Manager { return c.apps }

// Init creates the jobs and apps roots if they do not exist yet.
func (c *Controller) Init(ctx context.Context) error {
	if err := c.store.EnsureRoot(ctx); err != nil {
		return fmt.Errorf("create jobs root: %w", err)
	}
	if err := c.apps.EnsureRoot(ctx); err != nil {
		return fmt.Errorf("create apps root: %w", err)
	}
	return nil
}

// Load reads a job record by id.
func (c *Controller) Load(ctx context.Context, jobID string) (jobstore.JobRecord, error) {
	return c.store.Load(ctx, jobID)
}

// List returns every job id under the jobs root.
func (c *Controller) List(ctx context.Context) ([]string, error) {
	return c.store.List(ctx)
}

// checkJobDir rejects records whose working directory is not exactly the
// store's directory for their id. Commands like rm -r run against it.
func (c *Controller) checkJobDir(rec jobstore.JobRecord) error {
	if err := jobstore.ValidateJobID(rec.JobID); err != nil {
		return err
	}
	if rec.JobDir != c.store.JobDir(rec.JobID) {
		return errdefs.Validation("job %s: working directory %q is not %s", rec.JobID, rec.JobDir, c.store.JobDir(rec.JobID))
	}
	return nil
}

// jobPath resolves rel inside the job directory.
func (c *Controller) jobPath(rec jobstore.JobRecord, rel string) (string, error) {
	if err := c.checkJobDir(rec); err != nil {
		return "", err
	}
	clean := path.Clean(strings.TrimPrefix(rel, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errdefs.Validation("path %q escapes the job directory", rel)
	}
	return path.Join(rec.JobDir, clean), nil
}

func (c *Controller) run(ctx context.Context, format string, args ...any) (command.Command, error) {
	return c.runner.Run(ctx, fmt.Sprintf(format, args...))
}

var q = command.Quote
