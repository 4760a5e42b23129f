// Package jobmanager implements the Job Manager: typed asynchronous work
// with a lifecycle, progress reporting, cancellation, and durable status.
// The execution-context and worker-pool shapes generalize the same
// guarded-update and heartbeat/panic-recovery idioms used elsewhere in this
// stack for SQL-row job targets, adapted here to an in-memory-authoritative
// target with an optional durable tier.
package jobmanager

import (
	"time"

	"github.com/scenehub/corehub/internal/platform/apierr"
)

// Status is a job's lifecycle state (invariant I9: pending -> in_progress
// -> {completed, failed, cancelled}, terminal states are immutable).
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one unit of asynchronous work tracked by the Manager.
type Job struct {
	ID        string         `json:"job_id"`
	JobType   string         `json:"job_type"`
	SessionID string         `json:"session_id,omitempty"`
	TargetUID string         `json:"target_uid,omitempty"`
	Status    Status         `json:"status"`
	Params    map[string]any `json:"params,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     *apierr.Error  `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Progress  int            `json:"progress"`
	Stage     string         `json:"stage,omitempty"`
}

func (j *Job) clone() *Job {
	cp := *j
	if j.Params != nil {
		cp.Params = cloneMap(j.Params)
	}
	if j.Result != nil {
		cp.Result = cloneMap(j.Result)
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
