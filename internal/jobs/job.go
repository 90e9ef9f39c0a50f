// Package jobs implements the asynchronous job orchestration core:
// admission, fingerprint deduplication, the bounded worker pool,
// progress tracking and terminal-state finalization.
package jobs

import (
	"time"
)

// Kind is the enumerated operation type of a job.
type Kind string

const (
	KindDownload    Kind = "download"
	KindProcess     Kind = "process"
	KindVectorIndex Kind = "vector-index"
	KindSearch      Kind = "search"
)

// State is the lifecycle state of a job. Terminal states are final.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// FailureReason classifies a terminal failure.
type FailureReason string

const (
	ReasonWorkerFailure FailureReason = "worker_failure"
	ReasonWorkerLost    FailureReason = "worker_lost"
	ReasonCancelled     FailureReason = "cancelled"
)

// JobError is the structured reason attached to a failed job.
type JobError struct {
	Reason  FailureReason `json:"reason"`
	Message string        `json:"message"`
}

func (e *JobError) Error() string {
	return string(e.Reason) + ": " + e.Message
}

// Job is one trackable unit of work. Mutated only by the executing worker
// and the manager's finalize step; readers always get a snapshot copy.
type Job struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	Fingerprint string         `json:"fingerprint"`
	Owner       string         `json:"owner"`
	Params      map[string]any `json:"params,omitempty"`

	State    State          `json:"state"`
	Progress int            `json:"progress"`
	Result   map[string]any `json:"result,omitempty"`
	Error    *JobError      `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// LastHeartbeat is bumped on every progress report while running and
	// drives worker-lost detection.
	LastHeartbeat time.Time `json:"last_heartbeat"`

	// WebhookTargets is snapshotted at submission; later config changes do
	// not affect pending jobs.
	WebhookTargets []string `json:"webhook_targets,omitempty"`
}

// Clone returns a deep-enough copy for handing to readers.
func (j *Job) Clone() *Job {
	c := *j
	if j.Params != nil {
		c.Params = make(map[string]any, len(j.Params))
		for k, v := range j.Params {
			c.Params[k] = v
		}
	}
	if j.Result != nil {
		c.Result = make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			c.Result[k] = v
		}
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	c.WebhookTargets = append([]string(nil), j.WebhookTargets...)
	return &c
}

// Summary is the completion payload handed to the webhook dispatcher and
// the event hub.
type Summary struct {
	JobID      string         `json:"job_id"`
	Kind       Kind           `json:"kind"`
	State      State          `json:"state"`
	Progress   int            `json:"progress"`
	Result     map[string]any `json:"result,omitempty"`
	Error      *JobError      `json:"error,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

func summarize(j *Job) Summary {
	return Summary{
		JobID:      j.ID,
		Kind:       j.Kind,
		State:      j.State,
		Progress:   j.Progress,
		Result:     j.Result,
		Error:      j.Error,
		FinishedAt: j.FinishedAt,
	}
}
