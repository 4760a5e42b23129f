package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/scenehub/corehub/internal/corehub/uid"
	"github.com/scenehub/corehub/internal/platform/logger"
)

func testLoggerForSaga(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestSagaRollbackRemovesDirAndUID(t *testing.T) {
	dir := t.TempDir()
	log := testLoggerForSaga(t)
	uids, err := uid.New(log, filepath.Join(dir, "uid_state.json"))
	if err != nil {
		t.Fatalf("uid.New: %v", err)
	}
	fbxUID, err := uids.Next(uid.KindFBX)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	counter := uids.Current(uid.KindFBX)

	objDir := filepath.Join(dir, "object_3d", fbxUID)
	if err := os.MkdirAll(objDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	j, err := NewSagaJournal(log, uids, filepath.Join(dir, "saga_journal.json"))
	if err != nil {
		t.Fatalf("NewSagaJournal: %v", err)
	}
	j.Rollback("convert:"+fbxUID, JobTypeConvert, fbxUID, []SagaAction{
		{Type: SagaActionRemoveDir, Path: objDir},
		{Type: SagaActionRollbackUID, UIDKind: uid.KindFBX, ExpectedCounter: counter},
	})

	if _, err := os.Stat(objDir); !os.IsNotExist(err) {
		t.Fatalf("expected object dir removed, stat err = %v", err)
	}
	if got := uids.Current(uid.KindFBX); got != counter-1 {
		t.Fatalf("expected uid counter rolled back to %d, got %d", counter-1, got)
	}
}

// TestSagaReplayResumesInterruptedRollback simulates a crash between
// persisting a pending compensation and executing it: a fresh SagaJournal
// pointed at the same journal file must still remove the orphaned
// directory and roll back the UID on the next process's ReplayPending.
func TestSagaReplayResumesInterruptedRollback(t *testing.T) {
	dir := t.TempDir()
	log := testLoggerForSaga(t)
	uids, err := uid.New(log, filepath.Join(dir, "uid_state.json"))
	if err != nil {
		t.Fatalf("uid.New: %v", err)
	}
	fbxUID, err := uids.Next(uid.KindFBX)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	counter := uids.Current(uid.KindFBX)

	objDir := filepath.Join(dir, "object_3d", fbxUID)
	if err := os.MkdirAll(objDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	journalPath := filepath.Join(dir, "saga_journal.json")
	crashed, err := NewSagaJournal(log, uids, journalPath)
	if err != nil {
		t.Fatalf("NewSagaJournal: %v", err)
	}
	// persist records the pending compensation without running it, modeling
	// a crash after the journal write but before execute/clear.
	crashed.persist("convert:"+fbxUID, JobTypeConvert, fbxUID, []SagaAction{
		{Type: SagaActionRemoveDir, Path: objDir},
		{Type: SagaActionRollbackUID, UIDKind: uid.KindFBX, ExpectedCounter: counter},
	})

	if _, err := os.Stat(objDir); err != nil {
		t.Fatalf("expected object dir to still exist before replay: %v", err)
	}

	resumed, err := NewSagaJournal(log, uids, journalPath)
	if err != nil {
		t.Fatalf("NewSagaJournal (resumed): %v", err)
	}
	if n := resumed.ReplayPending(); n != 1 {
		t.Fatalf("ReplayPending() = %d, want 1", n)
	}

	if _, err := os.Stat(objDir); !os.IsNotExist(err) {
		t.Fatalf("expected object dir removed after replay, stat err = %v", err)
	}
	if got := uids.Current(uid.KindFBX); got != counter-1 {
		t.Fatalf("expected uid counter rolled back to %d, got %d", counter-1, got)
	}
	if n := resumed.ReplayPending(); n != 0 {
		t.Fatalf("second ReplayPending() = %d, want 0 (entry should have been cleared)", n)
	}
}

// TestSagaReplayIsIdempotentAgainstAlreadyRolledBackUID guards the
// ExpectedCounter check: replaying a rollback_uid action whose counter was
// already decremented by an earlier (interrupted) replay must not
// decrement it a second time.
func TestSagaReplayIsIdempotentAgainstAlreadyRolledBackUID(t *testing.T) {
	dir := t.TempDir()
	log := testLoggerForSaga(t)
	uids, err := uid.New(log, filepath.Join(dir, "uid_state.json"))
	if err != nil {
		t.Fatalf("uid.New: %v", err)
	}
	fbxUID, err := uids.Next(uid.KindFBX)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	counter := uids.Current(uid.KindFBX)

	j, err := NewSagaJournal(log, uids, filepath.Join(dir, "saga_journal.json"))
	if err != nil {
		t.Fatalf("NewSagaJournal: %v", err)
	}
	action := []SagaAction{{Type: SagaActionRollbackUID, UIDKind: uid.KindFBX, ExpectedCounter: counter}}

	j.Rollback("convert:"+fbxUID, JobTypeConvert, fbxUID, action)
	if got := uids.Current(uid.KindFBX); got != counter-1 {
		t.Fatalf("after first rollback, counter = %d, want %d", got, counter-1)
	}

	// Re-running the same (already-cleared) action directly must be a
	// no-op because the counter no longer matches ExpectedCounter.
	j.execute(action)
	if got := uids.Current(uid.KindFBX); got != counter-1 {
		t.Fatalf("after replaying stale action, counter = %d, want unchanged %d", got, counter-1)
	}
}
