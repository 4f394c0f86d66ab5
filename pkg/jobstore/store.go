// Package jobstore persists job records as JSON documents inside each job's
// remote working directory.
package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/3leaps/gosbatch/pkg/errdefs"
	"github.com/3leaps/gosbatch/pkg/remotefs"
)

// ConfigFile is the record file name inside every job directory.
const ConfigFile = "job_config.json"

// Store persists and loads JobRecords under a remote jobs root.
//
// Directory layout:
//
//	<root>/<job_id>/job_config.json
//	<root>/<job_id>/submit_script.sh
//	<root>/<job_id>/wrapper.sh
//	<root>/<job_id>/<staged inputs, app assets, outputs>
//
// A Store assumes a single writer per job.
type Store struct {
	fs   remotefs.FS
	root string
	now  func() time.Time
}

// NewStore returns a store rooted at root. now defaults to time.Now.
func NewStore(fsys remotefs.FS, root string, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{fs: fsys, root: strings.TrimRight(strings.TrimSpace(root), "/"), now: now}
}

func (s *Store) RootDir() string {
	return s.root
}

func (s *Store) JobDir(jobID string) string {
	return path.Join(s.root, jobID)
}

func (s *Store) ConfigPath(jobID string) string {
	return path.Join(s.JobDir(jobID), ConfigFile)
}

// EnsureRoot creates the jobs root if needed.
func (s *Store) EnsureRoot(ctx context.Context) error {
	if s.root == "" {
		return fmt.Errorf("jobs root dir is empty")
	}
	return s.fs.MkdirAll(ctx, s.root)
}

// ValidateJobID rejects ids that are not a single path element.
func ValidateJobID(jobID string) error {
	switch {
	case strings.TrimSpace(jobID) == "":
		return errdefs.Validation("job_id is required")
	case strings.ContainsAny(jobID, "/\\ \t\n"):
		return errdefs.Validation("invalid job_id %q", jobID)
	case strings.HasPrefix(jobID, "."):
		return errdefs.Validation("invalid job_id %q", jobID)
	}
	return nil
}

// Save stamps ts.dump_ts and writes the record to <job_dir>/job_config.json.
// Records that break CheckInvariants are refused. The write goes to a temporary file that is renamed into place, so a failed
// save leaves the previous record intact. The stamped record is returned.
func (s *Store) Save(ctx context.Context, rec JobRecord) (JobRecord, error) {
	if err := ValidateJobID(rec.JobID); err != nil {
		return rec, err
	}
	if strings.TrimSpace(rec.JobDir) == "" {
		return rec, errdefs.Validation("job %s has no working directory", rec.JobID)
	}
	if err := rec.CheckInvariants(); err != nil {
		return rec, err
	}

	rec.TS.DumpTS = Stamp(s.now())
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return rec, fmt.Errorf("marshal job record: %w", err)
	}
	b = append(b, '\n')

	if err := remotefs.WriteFileAtomic(ctx, s.fs, path.Join(rec.JobDir, ConfigFile), b); err != nil {
		return rec, fmt.Errorf("save job %s: %w", rec.JobID, err)
	}
	return rec, nil
}

// Load reads the record of jobID. A missing job directory or record file is
// errdefs.ErrNotFound.
func (s *Store) Load(ctx context.Context, jobID string) (JobRecord, error) {
	if err := ValidateJobID(jobID); err != nil {
		return JobRecord{}, err
	}
	if _, err := s.fs.Stat(ctx, s.JobDir(jobID)); err != nil {
		if errdefs.IsNotFound(err) {
			return JobRecord{}, errdefs.NotFound("job %s", jobID)
		}
		return JobRecord{}, err
	}

	b, err := remotefs.ReadFile(ctx, s.fs, s.ConfigPath(jobID))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return JobRecord{}, errdefs.NotFound("job %s: no %s", jobID, ConfigFile)
		}
		return JobRecord{}, err
	}

	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return JobRecord{}, fmt.Errorf("job %s: %s is empty", jobID, ConfigFile)
	}
	var rec JobRecord
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return JobRecord{}, fmt.Errorf("parse %s: %w", ConfigFile, err)
	}
	// A directory copied or renamed by hand still carries the old id.
	if rec.JobID != jobID {
		return JobRecord{}, errdefs.Validation("job %s: %s belongs to job %q", jobID, ConfigFile, rec.JobID)
	}
	return rec, nil
}

// List returns the job ids under the root in sorted order. A missing root is
// an empty list.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := s.fs.ReadDir(ctx, s.root)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs root: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir || strings.HasPrefix(e.Name, ".") {
			continue
		}
		out = append(out, e.Name)
	}
	return out, nil
}
