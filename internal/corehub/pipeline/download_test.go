package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDownloadPublishesRegistryRecord(t *testing.T) {
	o := newTestOrchestrator(t)
	wireFakeRoblox(t, o, "R6")

	result, err := o.Download(context.Background(), nil, DownloadParams{SessionID: "sess-1", UserInput: "12345"})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if result.Username != "testuser" || result.UserID != 12345 {
		t.Fatalf("unexpected user info: %+v", result)
	}
	if result.AvatarType != "R6" {
		t.Fatalf("AvatarType = %q, want R6", result.AvatarType)
	}
	if result.Reused {
		t.Fatal("first download should not be marked reused")
	}
	if _, err := os.Stat(result.ObjPath); err != nil {
		t.Fatalf("obj file missing: %v", err)
	}
	if result.MtlPath == "" {
		t.Fatal("expected mtl to download alongside obj")
	}

	rec, err := o.registry.Get(result.ObjUID)
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}
	if rec.SessionID != "sess-1" {
		t.Fatalf("record session_id = %q", rec.SessionID)
	}

	sidecar, err := readMetadataSidecar(o.paths.Object3DDir(result.ObjUID))
	if err != nil {
		t.Fatalf("readMetadataSidecar: %v", err)
	}
	if sidecar.Username != "testuser" {
		t.Fatalf("sidecar username = %q", sidecar.Username)
	}
}

func TestDownloadReusesExistingUIDForSameUser(t *testing.T) {
	o := newTestOrchestrator(t)
	wireFakeRoblox(t, o, "R6")

	first, err := o.Download(context.Background(), nil, DownloadParams{SessionID: "sess-1", UserInput: "12345"})
	if err != nil {
		t.Fatalf("first Download: %v", err)
	}

	second, err := o.Download(context.Background(), nil, DownloadParams{SessionID: "sess-1", UserInput: "12345"})
	if err != nil {
		t.Fatalf("second Download: %v", err)
	}
	if !second.Reused {
		t.Fatal("expected second download to reuse the existing uid")
	}
	if second.ObjUID != first.ObjUID {
		t.Fatalf("ObjUID changed on reuse: %s -> %s", first.ObjUID, second.ObjUID)
	}
}

func TestDownloadFailsOnUnknownUser(t *testing.T) {
	o := newTestOrchestrator(t)
	wireFakeRoblox(t, o, "R6")

	if _, err := o.Download(context.Background(), nil, DownloadParams{SessionID: "sess-1", UserInput: "nonexistent-user"}); err == nil {
		t.Fatal("expected error resolving an unknown username")
	}
}

func TestDownloadRollsBackUIDOnFatalModelDownloadFailure(t *testing.T) {
	o := newTestOrchestrator(t)
	wireFakeRobloxNoObjContent(t, o)

	before := o.uids.Current(uidKindObject3D)
	if _, err := o.Download(context.Background(), nil, DownloadParams{SessionID: "sess-1", UserInput: "12345"}); err == nil {
		t.Fatal("expected fatal error when the obj blob cannot be downloaded")
	}
	after := o.uids.Current(uidKindObject3D)
	if before != after {
		t.Fatalf("uid counter not rolled back: before=%d after=%d", before, after)
	}
}

func TestAnalyzeOBJFileCountsAndClassifies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "avatar.obj")
	content := "g player1_head\nv 0 0 0\nv 1 0 0\nv 0 1 0\nvn 0 0 1\nvt 0 0\nf 1 2 3\nusemtl skin\ng torso\nv 0 0 0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	structure, err := analyzeOBJFile(path)
	if err != nil {
		t.Fatalf("analyzeOBJFile: %v", err)
	}
	if structure.Vertices != 4 {
		t.Fatalf("Vertices = %d, want 4", structure.Vertices)
	}
	if structure.Faces != 1 {
		t.Fatalf("Faces = %d, want 1", structure.Faces)
	}
	if len(structure.Groups) != 2 {
		t.Fatalf("Groups = %d, want 2", len(structure.Groups))
	}
	if structure.Groups[0].Type != "head" {
		t.Fatalf("first group classified as %q, want head", structure.Groups[0].Type)
	}
	if len(structure.Materials) != 1 || structure.Materials[0] != "skin" {
		t.Fatalf("Materials = %v", structure.Materials)
	}
}

func TestInferRigFromGroupsDetectsR15Markers(t *testing.T) {
	groups := []objGroup{{Name: "UpperArm"}, {Name: "LowerArm"}}
	if got := inferRigFromGroups(groups); got != "R15" {
		t.Fatalf("inferRigFromGroups = %q, want R15", got)
	}
}

func TestInferRigFromGroupsSmallGroupCountIsR6(t *testing.T) {
	groups := []objGroup{{Name: "Head"}, {Name: "Torso"}}
	if got := inferRigFromGroups(groups); got != "R6" {
		t.Fatalf("inferRigFromGroups = %q, want R6", got)
	}
}
