package pipeline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/scenehub/corehub/internal/corehub/uid"
	"github.com/scenehub/corehub/internal/platform/atomicfile"
	"github.com/scenehub/corehub/internal/platform/logger"
)

// SagaActionType is one kind of compensating step a SagaRun records before
// it is carried out.
type SagaActionType string

const (
	SagaActionRemoveDir   SagaActionType = "remove_dir"
	SagaActionRollbackUID SagaActionType = "rollback_uid"
)

// SagaAction is one compensation step. A RollbackUID action carries the
// counter value observed immediately after the allocation it undoes, so
// replaying it after a crash never double-decrements a counter an earlier
// run already rolled back.
type SagaAction struct {
	Type            SagaActionType `json:"type"`
	Path            string         `json:"path,omitempty"`
	UIDKind         uid.Kind       `json:"uid_kind,omitempty"`
	ExpectedCounter int            `json:"expected_counter,omitempty"`
}

// SagaRun is the durable record of one sub-job's pending compensations.
type SagaRun struct {
	SagaID    string       `json:"saga_id"`
	JobType   string       `json:"job_type"`
	TargetUID string       `json:"target_uid"`
	Actions   []SagaAction `json:"actions"`
	CreatedAt time.Time    `json:"created_at"`
}

type sagaJournalState struct {
	Runs map[string]SagaRun `json:"runs"`
}

// SagaJournal persists in-flight rollback compensations to disk so a
// process crash mid-rollback can resume them on the next startup instead of
// leaving orphaned directories and UID gaps behind a single in-memory
// cleanup attempt. Actions are written before any of them run; the entry is
// only cleared once every action has executed.
type SagaJournal struct {
	log  *logger.Logger
	uids *uid.Allocator
	path string
	mu   sync.Mutex
}

// NewSagaJournal loads (or initializes) the journal file at path.
func NewSagaJournal(log *logger.Logger, uids *uid.Allocator, path string) (*SagaJournal, error) {
	j := &SagaJournal{log: log, uids: uids, path: path}
	if _, err := j.load(); err != nil {
		return nil, fmt.Errorf("load saga journal %s: %w", path, err)
	}
	return j, nil
}

func (j *SagaJournal) load() (sagaJournalState, error) {
	var s sagaJournalState
	if err := atomicfile.ReadJSON(j.path, &s); err != nil {
		if !os.IsNotExist(err) {
			return sagaJournalState{}, err
		}
		s.Runs = map[string]SagaRun{}
		if err := atomicfile.WriteJSON(j.path, s); err != nil {
			return sagaJournalState{}, err
		}
		return s, nil
	}
	if s.Runs == nil {
		s.Runs = map[string]SagaRun{}
	}
	return s, nil
}

// Rollback durably records actions under sagaID before running any of
// them, executes each in order, then clears the entry. A crash between the
// record and the final clear leaves the entry for ReplayPending to finish.
func (j *SagaJournal) Rollback(sagaID, jobType, targetUID string, actions []SagaAction) {
	j.persist(sagaID, jobType, targetUID, actions)
	j.execute(actions)
	j.clear(sagaID)
}

func (j *SagaJournal) persist(sagaID, jobType, targetUID string, actions []SagaAction) {
	j.mu.Lock()
	defer j.mu.Unlock()
	s, err := j.load()
	if err != nil {
		if j.log != nil {
			j.log.Warn("saga journal: failed to persist pending rollback, compensating best-effort only", "saga_id", sagaID, "error", err)
		}
		return
	}
	s.Runs[sagaID] = SagaRun{
		SagaID:    sagaID,
		JobType:   jobType,
		TargetUID: targetUID,
		Actions:   actions,
		CreatedAt: time.Now().UTC(),
	}
	if err := atomicfile.WriteJSON(j.path, s); err != nil && j.log != nil {
		j.log.Warn("saga journal: failed to persist pending rollback, compensating best-effort only", "saga_id", sagaID, "error", err)
	}
}

func (j *SagaJournal) execute(actions []SagaAction) {
	for _, a := range actions {
		switch a.Type {
		case SagaActionRemoveDir:
			if a.Path == "" {
				continue
			}
			if err := os.RemoveAll(a.Path); err != nil && j.log != nil {
				j.log.Warn("saga journal: compensating remove_dir failed", "path", a.Path, "error", err)
			}
		case SagaActionRollbackUID:
			// Only roll back if the counter still matches what it was
			// right after the allocation being undone; a replay that
			// finds it already decremented skips rather than
			// double-rolling-back.
			if j.uids.Current(a.UIDKind) != a.ExpectedCounter {
				continue
			}
			if err := j.uids.Rollback(a.UIDKind); err != nil && j.log != nil {
				j.log.Warn("saga journal: compensating rollback_uid failed", "kind", a.UIDKind, "error", err)
			}
		}
	}
}

func (j *SagaJournal) clear(sagaID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	s, err := j.load()
	if err != nil {
		if j.log != nil {
			j.log.Warn("saga journal: failed to load before clearing completed rollback", "saga_id", sagaID, "error", err)
		}
		return
	}
	delete(s.Runs, sagaID)
	if err := atomicfile.WriteJSON(j.path, s); err != nil && j.log != nil {
		j.log.Warn("saga journal: failed to clear completed rollback", "saga_id", sagaID, "error", err)
	}
}

// ReplayPending re-executes every compensation a prior process left
// pending mid-rollback, then clears each entry. Called once at startup,
// mirroring jobmanager.Manager.DetectOrphaned's restart recovery for
// in-progress jobs.
func (j *SagaJournal) ReplayPending() int {
	j.mu.Lock()
	s, err := j.load()
	j.mu.Unlock()
	if err != nil {
		if j.log != nil {
			j.log.Warn("saga journal: failed to load for replay", "error", err)
		}
		return 0
	}
	n := 0
	for sagaID, run := range s.Runs {
		if j.log != nil {
			j.log.Warn("saga journal: resuming compensation left pending by a prior crash",
				"saga_id", sagaID, "job_type", run.JobType, "target_uid", run.TargetUID)
		}
		j.execute(run.Actions)
		j.clear(sagaID)
		n++
	}
	return n
}
