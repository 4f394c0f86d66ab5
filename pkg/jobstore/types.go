package jobstore

import (
	"time"

	"github.com/3leaps/gosbatch/pkg/errdefs"
)

// TimestampLayout formats every lifecycle timestamp (YYYYMMDD_HHMMSS).
const TimestampLayout = "20060102_150405"

// Stamp formats t for a Timestamps field.
func Stamp(t time.Time) *string {
	s := t.Format(TimestampLayout)
	return &s
}

// Timestamps is the lifecycle block of a job record.
//
// NOTE: The four lifecycle fields are always written, as null when unset.
// They are part of the on-disk contract.
type Timestamps struct {
	SetupTS  *string `json:"setup_ts"`
	SubmitTS *string `json:"submit_ts"`
	StartTS  *string `json:"start_ts"`
	EndTS    *string `json:"end_ts"`

	// DumpTS is stamped by Store.Save.
	DumpTS *string `json:"dump_ts,omitempty"`
}

// Slurm holds scheduler submission metadata.
type Slurm struct {
	// SlurmID is present only while the job is submitted and not cancelled.
	SlurmID string `json:"slurm_id,omitempty"`

	// SbatchRet keeps the raw scheduler output of a rejected submission.
	SbatchRet string `json:"sbatch_ret,omitempty"`
}

// JobRecord is the persistent record written to job_config.json.
type JobRecord struct {
	Name   string `json:"name"`
	AppID  string `json:"appId"`
	JobID  string `json:"job_id"`
	JobDir string `json:"job_dir"`
	Desc   string `json:"desc"`

	Queue             string `json:"queue"`
	NodeCount         int    `json:"nodeCount"`
	ProcessorsPerNode int    `json:"processorsPerNode"`
	MaxRunTime        string `json:"maxRunTime"`
	Email             string `json:"email,omitempty"`
	Allocation        string `json:"allocation,omitempty"`

	Inputs     map[string]string `json:"inputs"`
	Parameters map[string]any    `json:"parameters"`

	TS    Timestamps `json:"ts"`
	Slurm Slurm      `json:"slurm"`
}

// IsSetup reports whether the job's working directory was created.
func (r JobRecord) IsSetup() bool { return r.TS.SetupTS != nil }

// Active reports whether the job is currently submitted.
func (r JobRecord) Active() bool { return r.TS.SubmitTS != nil }

// CheckInvariants verifies the lifecycle rules every persisted record obeys:
// submit_ts implies setup_ts, and slurm_id is present exactly when submit_ts is.
func (r JobRecord) CheckInvariants() error {
	if r.TS.SubmitTS != nil && r.TS.SetupTS == nil {
		return errdefs.Validation("job %s: submit_ts set without setup_ts", r.JobID)
	}
	if (r.Slurm.SlurmID != "") != (r.TS.SubmitTS != nil) {
		return errdefs.Validation("job %s: slurm_id and submit_ts disagree", r.JobID)
	}
	return nil
}
