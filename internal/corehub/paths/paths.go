// Package paths centralizes the on-disk directory layout so every other
// component derives paths from one place instead of string-concatenating
// its own. Layout mirrors §6 of the specification this module implements:
// a Saved/ tree for editor-visible artifacts, a MegaMelange/ tree for
// session and log state, a Reference/ tree per session, and an
// ObjectStore/ tree for UID counters, the resource registry, and 3D blobs.
package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/envutil"
	"github.com/scenehub/corehub/internal/platform/logger"
)

// projectMarkerGlob is the pattern a real editor project root is expected
// to contain, mirroring the original session manager's .uproject check. Its
// absence only warns rather than fails: a brand-new project root legitimately
// has no marker file yet.
const projectMarkerGlob = "*.uproject"

// Resolver exposes typed accessors for every directory and state file the
// rest of the module persists to.
type Resolver struct {
	root       string
	createDirs bool
}

// New resolves the project root from explicit configuration, then the
// UNREAL_PROJECT_PATH/UE_PROJECT_PATH environment variables, then a local
// default directory, and creates the managed directories when createDirs is
// set (writability is probed by HealthCheck, not here). It warns (but does not
// fail) when the resolved root has no project-marker file, matching the
// original session manager's validate-and-warn behavior for a path that may
// legitimately not exist yet.
func New(log *logger.Logger, configuredRoot string, createDirs bool) (*Resolver, error) {
	root := configuredRoot
	if root == "" {
		root = envutil.String("UNREAL_PROJECT_PATH", "")
	}
	if root == "" {
		root = envutil.String("UE_PROJECT_PATH", "")
	}
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, apierr.New(apierr.CodeStorageError, "resolve working directory", err)
		}
		root = filepath.Join(cwd, ".corehub-data")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, apierr.New(apierr.CodeStorageError, "resolve project root", err)
	}
	if log != nil {
		if matches, _ := filepath.Glob(filepath.Join(abs, projectMarkerGlob)); len(matches) == 0 {
			log.Warn("project root has no project-marker file, continuing anyway", "root", abs, "marker_glob", projectMarkerGlob)
		}
	}
	r := &Resolver{root: abs, createDirs: createDirs}
	if createDirs {
		for _, dir := range r.allDirs() {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, apierr.New(apierr.CodeStorageError, fmt.Sprintf("create directory %s", dir), err)
			}
		}
	}
	return r, nil
}

func (r *Resolver) allDirs() []string {
	return []string{
		r.ScreenshotsDir(),
		r.StyledScreenshotsDir(),
		r.ThumbnailsDir(),
		r.GeneratedVideosDir(),
		r.SessionsStateDir(),
		r.LogsDir(),
		r.ReferenceBaseDir(),
		r.ObjectStoreDir(),
	}
}

// Root is the absolute editor project root.
func (r *Resolver) Root() string { return r.root }

// ScreenshotsDir holds editor-captured screenshots.
func (r *Resolver) ScreenshotsDir() string {
	return filepath.Join(r.root, "Saved", "Screenshots", "WindowsEditor")
}

// StyledScreenshotsDir holds image-transform worker output.
func (r *Resolver) StyledScreenshotsDir() string {
	return filepath.Join(r.root, "Saved", "Screenshots", "styled")
}

// ThumbnailsDir holds generated preview thumbnails served by the
// latest-image endpoint, cached alongside the image they were rendered
// from.
func (r *Resolver) ThumbnailsDir() string {
	return filepath.Join(r.root, "Saved", "Screenshots", "thumbnails")
}

// GeneratedVideosDir holds video-transform worker output.
func (r *Resolver) GeneratedVideosDir() string {
	return filepath.Join(r.root, "Saved", "Videos", "generated")
}

// SessionsStateDir holds the filesystem-fallback session store.
func (r *Resolver) SessionsStateDir() string {
	return filepath.Join(r.root, "Saved", "MegaMelange", "sessions")
}

// LogsDir holds application logs.
func (r *Resolver) LogsDir() string {
	return filepath.Join(r.root, "Saved", "MegaMelange", "logs")
}

// ReferenceBaseDir is the root of the Reference Store's session-segmented
// directories.
func (r *Resolver) ReferenceBaseDir() string {
	return filepath.Join(r.root, "Saved", "Reference")
}

// ObjectStoreDir is the root for UID counters, the resource registry, and
// 3D object blobs.
func (r *Resolver) ObjectStoreDir() string {
	return filepath.Join(r.root, "Saved", "ObjectStore")
}

// UIDStatePath is the UID allocator's main counter file.
func (r *Resolver) UIDStatePath() string {
	return filepath.Join(r.ObjectStoreDir(), "uid_state.json")
}

// ReferUIDStatePath is the refer_* partition's counter file. Kept physically
// separate from UIDStatePath so the Reference Store's lifecycle (eager
// deletion on session close) can never accidentally touch the main
// allocator's durable state.
func (r *Resolver) ReferUIDStatePath() string {
	return filepath.Join(r.ObjectStoreDir(), "refer_uid_state.json")
}

// ResourceRegistryPath is the Resource Registry's JSON file.
func (r *Resolver) ResourceRegistryPath() string {
	return filepath.Join(r.ObjectStoreDir(), "resource_registry.json")
}

// SagaJournalPath is the asset pipeline's durable compensation log, used to
// resume a rollback interrupted by a process crash.
func (r *Resolver) SagaJournalPath() string {
	return filepath.Join(r.ObjectStoreDir(), "saga_journal.json")
}

// Object3DDir returns the per-UID blob directory for a 3D object (OBJ or
// FBX record).
func (r *Resolver) Object3DDir(objectUID string) string {
	return filepath.Join(r.ObjectStoreDir(), "object_3d", objectUID)
}

// HealthCheck verifies the base directory exists and is writable.
func (r *Resolver) HealthCheck() error {
	probe := filepath.Join(r.root, ".write_check")
	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return apierr.New(apierr.CodeStorageError, "project root not writable", err)
	}
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return apierr.New(apierr.CodeStorageError, "project root not writable", err)
	}
	return os.Remove(probe)
}
