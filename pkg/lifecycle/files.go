package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/3leaps/gosbatch/pkg/errdefs"
	"github.com/3leaps/gosbatch/pkg/jobstore"
	"github.com/3leaps/gosbatch/pkg/remotefs"
	"github.com/3leaps/gosbatch/pkg/transfer"
)

// markerLayout is the date +"%FT%H%M%S" format the wrapper uses for its
// start_ and end_ marker files.
const markerLayout = "2006-01-02T150405"

// Refresh fills start_ts and end_ts from the wrapper's marker files and
// saves the record when either changed. The latest marker of each kind wins.
func (c *Controller) Refresh(ctx context.Context, rec jobstore.JobRecord) (jobstore.JobRecord, error) {
	if err := c.checkJobDir(rec); err != nil {
		return rec, err
	}
	if !rec.Active() {
		return rec, nil
	}
	entries, err := c.fs.ReadDir(ctx, rec.JobDir)
	if err != nil {
		return rec, err
	}

	start := latestMarker(entries, "start_")
	end := latestMarker(entries, "end_")
	changed := false
	if start != nil && (rec.TS.StartTS == nil || *rec.TS.StartTS != *start) {
		rec.TS.StartTS = start
		changed = true
	}
	if end != nil && (rec.TS.EndTS == nil || *rec.TS.EndTS != *end) {
		rec.TS.EndTS = end
		changed = true
	}
	if !changed {
		return rec, nil
	}
	return c.store.Save(ctx, rec)
}

func latestMarker(entries []remotefs.Entry, prefix string) *string {
	var latest time.Time
	for _, e := range entries {
		if e.IsDir || !strings.HasPrefix(e.Name, prefix) {
			continue
		}
		t, err := time.Parse(markerLayout, strings.TrimPrefix(e.Name, prefix))
		if err != nil {
			continue
		}
		if t.After(latest) {
			latest = t
		}
	}
	if latest.IsZero() {
		return nil
	}
	return jobstore.Stamp(latest)
}

// ListFiles lists a directory inside the job directory.
func (c *Controller) ListFiles(ctx context.Context, rec jobstore.JobRecord, rel string) ([]remotefs.Entry, error) {
	p, err := c.jobPath(rec, rel)
	if err != nil {
		return nil, err
	}
	return c.fs.ReadDir(ctx, p)
}

// Peek returns the first head lines, or the last tail lines, of a file in the
// job directory. With neither set it returns the first 10 lines.
func (c *Controller) Peek(ctx context.Context, rec jobstore.JobRecord, rel string, head, tail int) (string, error) {
	p, err := c.jobPath(rec, rel)
	if err != nil {
		return "", err
	}
	if ok, err := remotefs.Exists(ctx, c.fs, p); err != nil {
		return "", err
	} else if !ok {
		return "", errdefs.NotFound("job %s: %s", rec.JobID, rel)
	}

	var cmd string
	switch {
	case head > 0:
		cmd = fmt.Sprintf("head -n %d %s", head, q(p))
	case tail > 0:
		cmd = fmt.Sprintf("tail -n %d %s", tail, q(p))
	default:
		cmd = fmt.Sprintf("head %s", q(p))
	}
	out, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return out.Stdout, nil
}

// SendData uploads a local file or directory into destDir within the job
// directory and returns its remote path.
func (c *Controller) SendData(ctx context.Context, rec jobstore.JobRecord, local, destDir string) (string, error) {
	dir, err := c.jobPath(rec, destDir)
	if err != nil {
		return "", err
	}
	dest := path.Join(dir, filepath.Base(filepath.Clean(local)))
	if _, err := c.xfer.Upload(ctx, local, dest, transfer.Options{}); err != nil {
		return "", fmt.Errorf("send %s to job %s: %w", local, rec.JobID, err)
	}
	return dest, nil
}

// GetData downloads a file or directory from the job directory into
// <localDir>/<job_id>/ and returns the local path.
func (c *Controller) GetData(ctx context.Context, rec jobstore.JobRecord, rel, localDir string) (string, error) {
	src, err := c.jobPath(rec, rel)
	if err != nil {
		return "", err
	}
	jobLocal := filepath.Join(localDir, rec.JobID)
	if err := os.MkdirAll(jobLocal, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", jobLocal, err)
	}
	dest := filepath.Join(jobLocal, path.Base(src))
	if err := c.xfer.Download(ctx, src, dest); err != nil {
		return "", fmt.Errorf("get %s from job %s: %w", rel, rec.JobID, err)
	}
	return dest, nil
}

// Queue returns the scheduler queue listing for user.
func (c *Controller) Queue(ctx context.Context, user string) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", errdefs.Validation("user is required")
	}
	out, err := c.run(ctx, "%s %s", c.sched.Queue, q(user))
	if err != nil {
		return "", err
	}
	return out.Stdout, nil
}

// Allocations returns the account's allocation report.
func (c *Controller) Allocations(ctx context.Context) (string, error) {
	out, err := c.runner.Run(ctx, c.sched.Allocations)
	if err != nil {
		return "", err
	}
	return out.Stdout, nil
}
