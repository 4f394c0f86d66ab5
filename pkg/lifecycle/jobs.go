package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/gosbatch/pkg/errdefs"
	"github.com/3leaps/gosbatch/pkg/jobstore"
	"github.com/3leaps/gosbatch/pkg/render"
)

// FailedJobID is the job id SLURM front-ends print when submission is refused.
const FailedJobID = "FAILED"

// Submit runs the scheduler's submit command in the job directory and records
// the returned job id and submit_ts.
//
// A refused submission (non-zero exit, or an id that is empty or FAILED) is
// returned as errdefs.ErrCommandFailed. The raw scheduler output is kept in
// slurm.sbatch_ret and submit_ts stays null, so the job can be submitted
// again.
func (c *Controller) Submit(ctx context.Context, rec jobstore.JobRecord) (jobstore.JobRecord, error) {
	if err := c.checkJobDir(rec); err != nil {
		return rec, err
	}
	if !rec.IsSetup() {
		return rec, errdefs.Validation("job %s is not set up", rec.JobID)
	}
	if rec.Active() {
		return rec, errdefs.Validation("job %s is already submitted as %s", rec.JobID, rec.Slurm.SlurmID)
	}

	out, err := c.run(ctx, "cd %s && %s %s", q(rec.JobDir), c.sched.Submit, render.SubmitScriptName)
	if err != nil {
		if !errdefs.IsCommandFailed(err) {
			return rec, err
		}
		return c.rejectSubmit(ctx, rec, out.Stdout+out.Stderr, err)
	}

	id := parseJobID(out.Stdout)
	if id == "" || id == FailedJobID {
		cause := fmt.Errorf("%w: scheduler returned job id %q", errdefs.ErrCommandFailed, id)
		return c.rejectSubmit(ctx, rec, out.Stdout+out.Stderr, cause)
	}

	rec.Slurm = jobstore.Slurm{SlurmID: id}
	rec.TS.SubmitTS = jobstore.Stamp(c.now())
	saved, err := c.store.Save(ctx, rec)
	if err != nil {
		// The job is queued; hand back the record so the caller can retry the save.
		return rec, fmt.Errorf("job %s submitted as %s but not saved: %w", rec.JobID, id, err)
	}
	c.logger.Info("Job submitted", zap.String("job_id", rec.JobID), zap.String("slurm_id", id))
	return saved, nil
}

func (c *Controller) rejectSubmit(ctx context.Context, rec jobstore.JobRecord, raw string, cause error) (jobstore.JobRecord, error) {
	rec.Slurm.SbatchRet = raw
	if saved, err := c.store.Save(ctx, rec); err != nil {
		c.logger.Warn("Failed to save rejected submission", zap.String("job_id", rec.JobID), zap.Error(err))
	} else {
		rec = saved
	}
	c.logger.Error("Job submission rejected", zap.String("job_id", rec.JobID), zap.String("sbatch_ret", raw))
	return rec, fmt.Errorf("submit job %s: %w", rec.JobID, cause)
}

// parseJobID returns the last whitespace-separated token of the last
// non-empty output line ("Submitted batch job 12345" -> "12345").
func parseJobID(out string) string {
	lines := strings.Split(strings.TrimRight(out, "\n\r\t "), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// Cancel runs the scheduler's cancel command for a submitted job and, on
// success, resets every lifecycle timestamp to null and drops the scheduler
// id. If the cancel command fails the record is returned unchanged.
func (c *Controller) Cancel(ctx context.Context, rec jobstore.JobRecord) (jobstore.JobRecord, error) {
	if err := c.checkJobDir(rec); err != nil {
		return rec, err
	}
	if !rec.Active() {
		return rec, errdefs.Validation("job %s is not submitted", rec.JobID)
	}

	if _, err := c.run(ctx, "%s %s", c.sched.Cancel, q(rec.Slurm.SlurmID)); err != nil {
		return rec, fmt.Errorf("cancel job %s (%s): %w", rec.JobID, rec.Slurm.SlurmID, err)
	}

	next := rec
	next.Slurm.SlurmID = ""
	next.TS = jobstore.Timestamps{}
	saved, err := c.store.Save(ctx, next)
	if err != nil {
		return next, fmt.Errorf("job %s cancelled but not saved: %w", rec.JobID, err)
	}
	c.logger.Info("Job cancelled", zap.String("job_id", rec.JobID), zap.String("slurm_id", rec.Slurm.SlurmID))
	return saved, nil
}

// Cleanup removes the job directory. An active job is cancelled first; a
// failed cancel is logged and removal proceeds. On success the returned
// record's job_dir is empty. The record file goes with the directory, so
// nothing is saved.
func (c *Controller) Cleanup(ctx context.Context, rec jobstore.JobRecord) (jobstore.JobRecord, error) {
	if rec.JobDir == "" {
		return rec, nil
	}
	if err := c.checkJobDir(rec); err != nil {
		return rec, err
	}

	if rec.Active() {
		cancelled, err := c.Cancel(ctx, rec)
		if err != nil {
			c.logger.Warn("Cancel before cleanup failed; removing job dir anyway",
				zap.String("job_id", rec.JobID), zap.Error(err))
		} else {
			rec = cancelled
		}
	}

	if _, err := c.run(ctx, "rm -r %s", q(rec.JobDir)); err != nil {
		return rec, fmt.Errorf("remove job dir %s: %w", rec.JobDir, err)
	}
	c.logger.Info("Job cleaned up", zap.String("job_id", rec.JobID))
	rec.JobDir = ""
	return rec, nil
}
