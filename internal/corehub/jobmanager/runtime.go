package jobmanager

import (
	"context"

	"github.com/scenehub/corehub/internal/platform/apierr"
)

// RunContext is the execution handle a Handler receives. It wraps the
// in-flight job and the only mutators a handler should use to report
// progress or terminate — every mutator first checks the job has not
// already been cancelled before writing, so a worker racing a cancellation
// can never resurrect a terminal job.
type RunContext struct {
	Ctx context.Context
	mgr *Manager
	id  string
}

// Payload returns a copy of the job's params.
func (rc *RunContext) Payload() map[string]any {
	j, ok := rc.mgr.get(rc.id)
	if !ok {
		return nil
	}
	return j.Params
}

// Cancelled reports whether the job has been marked cancelled, the
// checkpoint every handler should poll between phases and I/O-bound steps.
func (rc *RunContext) Cancelled() bool {
	j, ok := rc.mgr.get(rc.id)
	return ok && j.Status == StatusCancelled
}

// Progress updates percentage and stage. Coalesced to never move
// backward (invariant I11) and ignored entirely once the job is terminal.
func (rc *RunContext) Progress(stage string, pct int) {
	rc.mgr.updateIfNotTerminal(rc.id, func(j *Job) {
		if pct > j.Progress {
			j.Progress = pct
		}
		j.Stage = stage
		if j.Status == StatusPending {
			j.Status = StatusInProgress
		}
	})
}

// Fail marks the job failed with err, unless it is already terminal
// (e.g. already cancelled).
func (rc *RunContext) Fail(err *apierr.Error) {
	rc.mgr.updateIfNotTerminal(rc.id, func(j *Job) {
		j.Status = StatusFailed
		j.Error = err
	})
}

// Succeed marks the job completed with result, unless it is already
// terminal.
func (rc *RunContext) Succeed(result map[string]any) {
	rc.mgr.updateIfNotTerminal(rc.id, func(j *Job) {
		j.Status = StatusCompleted
		j.Progress = 100
		j.Result = result
	})
}
