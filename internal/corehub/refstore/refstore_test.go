package refstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/scenehub/corehub/internal/corehub/uid"
	"github.com/scenehub/corehub/internal/platform/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	alloc, err := uid.New(log, filepath.Join(t.TempDir(), "refer_uid_state.json"))
	if err != nil {
		t.Fatalf("uid.New: %v", err)
	}
	return New(t.TempDir(), alloc)
}

func TestStoreLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	data := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}

	referUID, err := s.Store("sess_1", data, PurposeStyle, "image/png")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, rec, err := s.Load("sess_1", referUID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round-tripped bytes differ")
	}
	if rec.Purpose != PurposeStyle || rec.SessionID != "sess_1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestListAndDeleteBySession(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Store("sess_1", []byte("a"), PurposeColor, "image/png"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := s.Store("sess_1", []byte("b"), PurposeStyle, "image/png"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	list, err := s.List("sess_1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}

	if err := s.DeleteBySession("sess_1"); err != nil {
		t.Fatalf("DeleteBySession: %v", err)
	}
	list, err = s.List("sess_1")
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("len(list) after delete = %d, want 0", len(list))
	}
}

func TestLoadUnknownReferUIDFails(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.Load("sess_1", "refer_999"); err == nil {
		t.Fatal("expected error for unknown refer_uid")
	}
}
