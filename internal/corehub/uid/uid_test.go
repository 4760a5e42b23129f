package uid

import (
	"path/filepath"
	"testing"

	"github.com/scenehub/corehub/internal/platform/logger"
)

func newTestAllocator(t *testing.T) (*Allocator, string) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	path := filepath.Join(t.TempDir(), "uid_state.json")
	a, err := New(log, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, path
}

func TestNextIsMonotonic(t *testing.T) {
	a, _ := newTestAllocator(t)

	first, err := a.Next(KindImage)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	second, err := a.Next(KindImage)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if first != "img_001" {
		t.Fatalf("first = %q, want img_001", first)
	}
	if second != "img_002" {
		t.Fatalf("second = %q, want img_002", second)
	}
}

func TestKindsArePartitioned(t *testing.T) {
	a, _ := newTestAllocator(t)

	img, _ := a.Next(KindImage)
	vid, _ := a.Next(KindVideo)
	if img == vid {
		t.Fatalf("img and vid UIDs collided: %q", img)
	}
	if a.Current(KindImage) != 1 || a.Current(KindVideo) != 1 {
		t.Fatalf("expected independent counters, got img=%d vid=%d", a.Current(KindImage), a.Current(KindVideo))
	}
}

func TestDurabilityAcrossRestart(t *testing.T) {
	a, path := newTestAllocator(t)

	want, err := a.Next(KindObject3D)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	_ = want

	log, _ := logger.New("test")
	reloaded, err := New(log, path)
	if err != nil {
		t.Fatalf("reload New: %v", err)
	}
	if reloaded.Current(KindObject3D) < a.Current(KindObject3D) {
		t.Fatalf("reloaded counter %d < persisted counter %d", reloaded.Current(KindObject3D), a.Current(KindObject3D))
	}
}

func TestRollbackOnlyAffectsTargetKind(t *testing.T) {
	a, _ := newTestAllocator(t)

	if _, err := a.Next(KindFBX); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := a.Next(KindImage); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := a.Rollback(KindFBX); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if a.Current(KindFBX) != 0 {
		t.Fatalf("KindFBX counter = %d, want 0 after rollback", a.Current(KindFBX))
	}
	if a.Current(KindImage) != 1 {
		t.Fatalf("KindImage counter = %d, want unaffected 1", a.Current(KindImage))
	}
}

func TestRollbackNeverGoesNegative(t *testing.T) {
	a, _ := newTestAllocator(t)

	if err := a.Rollback(KindRefer); err != nil {
		t.Fatalf("Rollback on zero counter: %v", err)
	}
	if a.Current(KindRefer) != 0 {
		t.Fatalf("KindRefer counter = %d, want 0", a.Current(KindRefer))
	}
}
