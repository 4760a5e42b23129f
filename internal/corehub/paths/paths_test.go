package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolverStableAcrossCalls(t *testing.T) {
	root := t.TempDir()
	r, err := New(nil, root, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first := r.Object3DDir("obj_001")
	second := r.Object3DDir("obj_001")
	if first != second {
		t.Fatalf("Object3DDir not stable: %q vs %q", first, second)
	}
	if !filepath.IsAbs(first) {
		t.Fatalf("expected absolute path, got %q", first)
	}
}

func TestNewCreatesDirectories(t *testing.T) {
	root := t.TempDir()
	r, err := New(nil, root, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, dir := range []string{r.ScreenshotsDir(), r.ReferenceBaseDir(), r.ObjectStoreDir(), r.LogsDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory to exist: %s (err=%v)", dir, err)
		}
	}
}

func TestHealthCheckOnWritableRoot(t *testing.T) {
	r, err := New(nil, t.TempDir(), true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.HealthCheck(); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestEmptyConfiguredRootFallsBack(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	t.Chdir(t.TempDir())
	defer t.Chdir(wd)

	r, err := New(nil, "", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.Root() == "" {
		t.Fatal("expected non-empty fallback root")
	}
}

func TestEmptyConfiguredRootFallsBackToUnrealProjectPathEnv(t *testing.T) {
	envRoot := t.TempDir()
	t.Setenv("UNREAL_PROJECT_PATH", envRoot)

	r, err := New(nil, "", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	abs, err := filepath.Abs(envRoot)
	if err != nil {
		t.Fatalf("Abs: %v", err)
	}
	if r.Root() != abs {
		t.Fatalf("expected root resolved from UNREAL_PROJECT_PATH, got %q want %q", r.Root(), abs)
	}
}

// Missing or present project-marker files must never fail resolution; an
// absent marker only warns (see New's doc comment).
func TestMissingProjectMarkerIsNonFatal(t *testing.T) {
	root := t.TempDir()
	if _, err := New(nil, root, true); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestPresentProjectMarkerIsNonFatal(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "Scene.uproject"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if _, err := New(nil, root, true); err != nil {
		t.Fatalf("New: %v", err)
	}
}
