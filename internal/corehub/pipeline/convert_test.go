package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scenehub/corehub/internal/corehub/registry"
	"github.com/scenehub/corehub/internal/platform/transcoder"
)

func seedObjRecord(t *testing.T, o *Orchestrator, sessionID, avatarType string) string {
	t.Helper()
	objUID, err := o.uids.Next(uidKindObject3D)
	if err != nil {
		t.Fatalf("allocate obj uid: %v", err)
	}
	dir := o.paths.Object3DDir(objUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "avatar.obj"), []byte("v 0 0 0\n"), 0o644); err != nil {
		t.Fatalf("write obj: %v", err)
	}
	metadata := map[string]any{
		"source":      map[string]any{"platform": "roblox", "username": "testuser", "user_id": "12345"},
		"avatar_type": avatarType,
	}
	if _, err := o.registry.Add(objUID, registry.KindObject3D, "avatar.obj", sessionID, "", metadata); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}
	return objUID
}

func TestConvertProducesFBXRecord(t *testing.T) {
	o := newTestOrchestrator(t)
	objUID := seedObjRecord(t, o, "sess-1", "R6")

	result, err := o.Convert(context.Background(), nil, ConvertParams{SessionID: "sess-1", ObjUID: objUID})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if result.FBXUID == "" || result.FBXPath == "" {
		t.Fatalf("unexpected result: %+v", result)
	}
	rec, err := o.registry.Get(result.FBXUID)
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}
	if rec.ParentUID != objUID {
		t.Fatalf("ParentUID = %q, want %q", rec.ParentUID, objUID)
	}
}

func TestConvertRejectsR15Avatars(t *testing.T) {
	o := newTestOrchestrator(t)
	objUID := seedObjRecord(t, o, "sess-1", "R15")

	if _, err := o.Convert(context.Background(), nil, ConvertParams{SessionID: "sess-1", ObjUID: objUID}); err == nil {
		t.Fatal("expected R15 avatars to be rejected for FBX conversion")
	}
}

func TestConvertRejectsUnknownAvatarType(t *testing.T) {
	o := newTestOrchestrator(t)
	objUID := seedObjRecord(t, o, "sess-1", "")

	if _, err := o.Convert(context.Background(), nil, ConvertParams{SessionID: "sess-1", ObjUID: objUID}); err == nil {
		t.Fatal("expected an empty avatar_type to be rejected")
	}
}

func TestConvertRollsBackUIDOnTranscoderFailure(t *testing.T) {
	o := newTestOrchestrator(t)
	objUID := seedObjRecord(t, o, "sess-1", "R6")

	failScript := writeFakeTranscoderScript(t, `echo 'boom' >&2; exit 1`)
	o.transcoder = transcoder.New(transcoder.Config{Binary: failScript, Timeout: 5 * time.Second})

	object3DRoot := filepath.Join(o.paths.ObjectStoreDir(), "object_3d")
	before := o.uids.Current(uidKindFBX)
	entriesBefore, _ := os.ReadDir(object3DRoot)

	if _, err := o.Convert(context.Background(), nil, ConvertParams{SessionID: "sess-1", ObjUID: objUID}); err == nil {
		t.Fatal("expected transcoder failure to propagate")
	}

	after := o.uids.Current(uidKindFBX)
	if before != after {
		t.Fatalf("fbx uid counter not rolled back: before=%d after=%d", before, after)
	}
	entriesAfter, _ := os.ReadDir(object3DRoot)
	if len(entriesAfter) != len(entriesBefore) {
		t.Fatalf("expected the allocated fbx directory to be removed on rollback, entries before=%d after=%d", len(entriesBefore), len(entriesAfter))
	}
}

func TestConvertFailsWhenObjFileMissing(t *testing.T) {
	o := newTestOrchestrator(t)
	objUID, err := o.uids.Next(uidKindObject3D)
	if err != nil {
		t.Fatalf("allocate obj uid: %v", err)
	}
	if _, err := o.registry.Add(objUID, registry.KindObject3D, "avatar.obj", "sess-1", "", map[string]any{"avatar_type": "R6"}); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}
	// No on-disk obj file written.
	if _, err := o.Convert(context.Background(), nil, ConvertParams{SessionID: "sess-1", ObjUID: objUID}); err == nil {
		t.Fatal("expected error when the obj file does not exist on disk")
	}
}
