package domain

import "time"

// Status represents the lifecycle state of a run or a stage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusSkipped marks a stage that never ran because a transitive
	// dependency failed.
	StatusSkipped Status = "skipped"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// ParamValue is one opaque trigger parameter. Only string, number and bool
// values are accepted at the API boundary.
type ParamValue interface{}

// RunState is the aggregate record of one pipeline run. It is mutated only by
// the coordination loop that owns it; everyone else sees snapshots loaded from
// the run store. Once Status is terminal the record is never written again.
type RunState struct {
	RunID    string `json:"run_id"`
	Pipeline string `json:"pipeline"`

	// Trigger holds the opaque input parameters the run was triggered with.
	Trigger map[string]ParamValue `json:"trigger,omitempty"`

	Status Status                 `json:"status"`
	Stages map[string]*StageState `json:"stages"`

	// Error is the first fatal error observed, empty while healthy.
	Error string `json:"error,omitempty"`

	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StageState tracks a single stage within a run.
type StageState struct {
	Name string `json:"name"`

	// Needs lists the stages that must succeed before this one starts.
	Needs []string `json:"needs,omitempty"`

	// Backend names the adapter kind that executes this stage.
	Backend string `json:"backend"`

	Status     Status `json:"status"`
	RetryCount int    `json:"retry_count"`

	// Job is the backend's opaque handle for the external job. It is used
	// only for polling and cancellation, never as the source of truth for
	// stage state.
	Job *JobRef `json:"job,omitempty"`

	// Artifact references the stage's stored output, if any.
	Artifact *ArtifactRef `json:"artifact,omitempty"`

	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobRef is an opaque, non-owning handle to a job in an external backend.
type JobRef struct {
	Backend string `json:"backend"`
	ID      string `json:"id"`
	// Link is a human-facing URL into the backend's own UI, when the
	// backend provides one.
	Link string `json:"link,omitempty"`
}

// JobStatus is the status an external backend reports for a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the backend job status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// JobSpec is what the dispatcher hands a backend to start a job.
type JobSpec struct {
	RunID     string                `json:"run_id"`
	Stage     string                `json:"stage"`
	Params    map[string]ParamValue `json:"params,omitempty"`
	TargetEnv string                `json:"target_env,omitempty"`
}
