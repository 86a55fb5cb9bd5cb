package domain

import (
	"maps"
	"time"
)

// Mode selects how input arrives for a job.
type Mode string

const (
	ModeBatch    Mode = "batch"
	ModeRealtime Mode = "realtime"
)

// Valid reports whether the mode is known.
func (m Mode) Valid() bool {
	return m == ModeBatch || m == ModeRealtime
}

// JobState is the lifecycle state of a job.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Job is the registry record of one conversion request.
type Job struct {
	ID            string         `json:"job_id"`
	Mode          Mode           `json:"mode"`
	State         JobState       `json:"state"`
	Progress      int            `json:"progress"`
	Message       string         `json:"message"`
	Result        map[int]string `json:"result,omitempty"`
	Error         *JobError      `json:"error,omitempty"`
	Chunks        int            `json:"chunks"`
	FailedChunks  int            `json:"failed_chunks"`
	SlidesCovered int            `json:"slides_covered"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out of a registry.
func (j Job) Clone() Job {
	out := j
	if j.Result != nil {
		out.Result = maps.Clone(j.Result)
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return out
}

// JobUpdate is a partial mutation; nil fields are left untouched.
type JobUpdate struct {
	State         *JobState
	Progress      *int
	Message       *string
	Result        map[int]string
	Error         *JobError
	Chunks        *int
	FailedChunks  *int
	SlidesCovered *int
}

// isValidTransition enforces the job state machine edges.
func isValidTransition(from, to JobState) bool {
	switch from {
	case JobStatePending:
		return to == JobStateProcessing || to == JobStateFailed
	case JobStateProcessing:
		return to == JobStateCompleted || to == JobStateFailed
	default:
		return false
	}
}

// Apply mutates the job according to u. Terminal jobs reject every update,
// progress never decreases, result is only accepted on completion and error
// only on failure.
func (j *Job) Apply(u JobUpdate, now time.Time) error {
	if j.State.Terminal() {
		return Errorf(CodeInvalidState, "job %s is %s", j.ID, j.State)
	}

	if u.State != nil && *u.State != j.State {
		if !isValidTransition(j.State, *u.State) {
			return Errorf(CodeInvalidState, "invalid transition: %s -> %s", j.State, *u.State)
		}
	}
	if u.Result != nil && (u.State == nil || *u.State != JobStateCompleted) {
		return Errorf(CodeInvalidState, "result is only accepted with completion")
	}
	if u.Error != nil && (u.State == nil || *u.State != JobStateFailed) {
		return Errorf(CodeInvalidState, "error is only accepted with failure")
	}

	if u.State != nil {
		j.State = *u.State
	}
	if u.Progress != nil && *u.Progress > j.Progress {
		j.Progress = min(*u.Progress, 100)
	}
	if u.Message != nil {
		j.Message = *u.Message
	}
	if u.Result != nil {
		j.Result = maps.Clone(u.Result)
	}
	if u.Error != nil {
		e := *u.Error
		j.Error = &e
	}
	if u.Chunks != nil {
		j.Chunks = *u.Chunks
	}
	if u.FailedChunks != nil {
		j.FailedChunks = *u.FailedChunks
	}
	if u.SlidesCovered != nil {
		j.SlidesCovered = *u.SlidesCovered
	}
	j.UpdatedAt = now
	return nil
}

// NewJob returns a pending job.
func NewJob(id string, mode Mode, now time.Time) Job {
	return Job{
		ID:        id,
		Mode:      mode,
		State:     JobStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Ptr is a small helper for building JobUpdate literals.
func Ptr[T any](v T) *T {
	return &v
}
