package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scenehub/corehub/internal/corehub/registry"
	"github.com/scenehub/corehub/internal/platform/editorbridge"
)

func seedFBXRecord(t *testing.T, o *Orchestrator, sessionID string) string {
	t.Helper()
	fbxUID, err := o.uids.Next(uidKindFBX)
	if err != nil {
		t.Fatalf("allocate fbx uid: %v", err)
	}
	dir := o.paths.Object3DDir(fbxUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "avatar.fbx"), []byte("fake fbx bytes"), 0o644); err != nil {
		t.Fatalf("write fbx: %v", err)
	}
	if err := writeMetadataSidecar(dir, metadataSidecar{Username: "testuser", UserID: "12345"}); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	if _, err := o.registry.Add(fbxUID, registry.KindObject3D, "avatar.fbx", sessionID, "", nil); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}
	return fbxUID
}

func TestImportDispatchesEditorCommandAndUpdatesRegistry(t *testing.T) {
	o := newTestOrchestrator(t)
	fbxUID := seedFBXRecord(t, o, "sess-1")

	var capturedType string
	var capturedParams map[string]any
	stop := wireFakeEditor(t, o, func(req editorbridge.Request) editorbridge.Response {
		capturedType = req.Type
		capturedParams = req.Params
		return editorbridge.Response{Success: true, Result: map[string]any{"asset_path": "/UnrealMCP/Assets/Roblox/testuser_12345/avatar.fbx"}}
	})
	defer stop()

	result, err := o.Import(context.Background(), nil, ImportParams{UID: fbxUID})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if result.AssetPath != "/UnrealMCP/Assets/Roblox/testuser_12345/avatar.fbx" {
		t.Fatalf("AssetPath = %q", result.AssetPath)
	}
	if capturedType != "import_object3d_by_uid" {
		t.Fatalf("editor command type = %q", capturedType)
	}
	if capturedParams["mesh_format"] != "fbx" {
		t.Fatalf("mesh_format = %v", capturedParams["mesh_format"])
	}
	if capturedParams["content_path"] != "/UnrealMCP/Assets/Roblox/testuser_12345/" {
		t.Fatalf("content_path = %v", capturedParams["content_path"])
	}

	rec, err := o.registry.Get(fbxUID)
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}
	if rec.Metadata["imported"] != true {
		t.Fatalf("expected metadata to record imported=true, got %+v", rec.Metadata)
	}
}

func TestImportSurfacesEditorFailure(t *testing.T) {
	o := newTestOrchestrator(t)
	fbxUID := seedFBXRecord(t, o, "sess-1")

	stop := wireFakeEditor(t, o, func(req editorbridge.Request) editorbridge.Response {
		return editorbridge.Response{Success: false, Error: "import rejected"}
	})
	defer stop()

	if _, err := o.Import(context.Background(), nil, ImportParams{UID: fbxUID}); err == nil {
		t.Fatal("expected editor failure to propagate")
	}
}

func TestImportFailsWhenUIDUnknown(t *testing.T) {
	o := newTestOrchestrator(t)
	if _, err := o.Import(context.Background(), nil, ImportParams{UID: "fbx_999"}); err == nil {
		t.Fatal("expected error for an unregistered uid")
	}
}

func TestDownloadAndImportComposesAllThreeSubJobs(t *testing.T) {
	o := newTestOrchestrator(t)
	wireFakeRoblox(t, o, "R6")
	stopEditor := wireFakeEditor(t, o, func(req editorbridge.Request) editorbridge.Response {
		return editorbridge.Response{Success: true, Result: map[string]any{"asset_path": "/UnrealMCP/Assets/Roblox/testuser_12345/avatar.fbx"}}
	})
	defer stopEditor()

	result, err := o.DownloadAndImport(context.Background(), nil, "sess-1", "12345")
	if err != nil {
		t.Fatalf("DownloadAndImport: %v", err)
	}
	if result.ObjUID == "" || result.FBXUID == "" || result.AssetPath == "" {
		t.Fatalf("incomplete result: %+v", result)
	}

	objRec, err := o.registry.Get(result.ObjUID)
	if err != nil {
		t.Fatalf("registry.Get(obj): %v", err)
	}
	fbxRec, err := o.registry.Get(result.FBXUID)
	if err != nil {
		t.Fatalf("registry.Get(fbx): %v", err)
	}
	if fbxRec.ParentUID != objRec.UID {
		t.Fatalf("fbx record parent_uid = %q, want %q", fbxRec.ParentUID, objRec.UID)
	}
	if fbxRec.Metadata["imported"] != true {
		t.Fatalf("expected fbx record to be marked imported")
	}
}

func TestSanitizePathComponentStripsTraversal(t *testing.T) {
	got := sanitizePathComponent("a/b\\c..d")
	for _, bad := range []string{"/", "\\", ".."} {
		if strings.Contains(got, bad) {
			t.Fatalf("sanitizePathComponent result %q still contains %q", got, bad)
		}
	}
}
