package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scenehub/corehub/internal/corehub/jobmanager"
	"github.com/scenehub/corehub/internal/corehub/registry"
	"github.com/scenehub/corehub/internal/platform/apierr"
)

// ConvertParams is the input to Sub-job B.
type ConvertParams struct {
	SessionID string
	ObjUID    string
}

// ConvertResult is what Sub-job B publishes.
type ConvertResult struct {
	FBXUID  string `json:"fbx_uid"`
	FBXPath string `json:"fbx_path"`
}

// Convert runs Sub-job B: validate the source OBJ record is an R6 avatar,
// allocate a fresh fbx_* UID, invoke the external transcoder, and publish
// the resulting FBX record. Any failure rolls back the allocated UID so
// invariant I1 (UID monotonicity) is preserved without leaving a gap the
// Registry ever saw.
func (o *Orchestrator) Convert(ctx context.Context, rc *jobmanager.RunContext, p ConvertParams) (ConvertResult, error) {
	progress := func(stage string, pct int) {
		if rc != nil {
			rc.Progress(stage, pct)
		}
	}

	objRec, err := o.registry.Get(p.ObjUID)
	if err != nil {
		return ConvertResult{}, err
	}
	if objRec.Kind != registry.KindObject3D {
		return ConvertResult{}, apierr.New(apierr.CodeInvalidUIDFormat, "uid is not a 3d object: "+p.ObjUID, nil)
	}
	avatarType, _ := objRec.Metadata["avatar_type"].(string)
	if avatarType != "R6" {
		return ConvertResult{}, apierr.New(apierr.CodeAvatarProcessingFail,
			"only R6 avatars are supported for FBX conversion, got "+avatarType, nil).
			WithSuggestion("This avatar uses a body type other than R6 and cannot be converted to FBX for the editor.")
	}

	objDir := o.paths.Object3DDir(p.ObjUID)
	objPath := filepath.Join(objDir, "avatar.obj")
	if _, err := os.Stat(objPath); err != nil {
		return ConvertResult{}, apierr.New(apierr.CodeAssetNotFound, "obj file not found for "+p.ObjUID, err)
	}

	progress("allocating_uid", 5)
	fbxUID, err := o.uids.Next(uidKindFBX)
	if err != nil {
		return ConvertResult{}, apierr.New(apierr.CodeUIDGenerationFailed, "allocate fbx uid", err)
	}
	fbxCounter := o.uids.Current(uidKindFBX)
	sagaID := "convert:" + fbxUID
	uidOnlyRollback := []SagaAction{{Type: SagaActionRollbackUID, UIDKind: uidKindFBX, ExpectedCounter: fbxCounter}}
	fullRollback := func(fbxDir string) []SagaAction {
		return []SagaAction{
			{Type: SagaActionRemoveDir, Path: fbxDir},
			{Type: SagaActionRollbackUID, UIDKind: uidKindFBX, ExpectedCounter: fbxCounter},
		}
	}

	fbxDir := o.paths.Object3DDir(fbxUID)
	if err := os.MkdirAll(fbxDir, 0o755); err != nil {
		o.sagas.Rollback(sagaID, JobTypeConvert, fbxUID, uidOnlyRollback)
		return ConvertResult{}, apierr.New(apierr.CodeStorageError, "create fbx directory", err)
	}

	progress("transcoding", 10)
	summary, err := o.transcoder.Convert(ctx, objPath, fbxDir)
	if err != nil {
		o.sagas.Rollback(sagaID, JobTypeConvert, fbxUID, fullRollback(fbxDir))
		return ConvertResult{}, err
	}
	if summary.FBXPath == "" {
		o.sagas.Rollback(sagaID, JobTypeConvert, fbxUID, fullRollback(fbxDir))
		return ConvertResult{}, apierr.New(apierr.CodeAvatarProcessingFail, "transcoder succeeded but returned no fbx_path", nil)
	}
	progress("transcoding", 80)

	username, _ := objRec.Metadata["source"].(map[string]any)
	var usernameStr, userIDStr string
	if username != nil {
		usernameStr, _ = username["username"].(string)
		userIDStr, _ = username["user_id"].(string)
	}
	if err := writeMetadataSidecar(fbxDir, metadataSidecar{
		Username:   usernameStr,
		UserID:     userIDStr,
		AvatarType: avatarType,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		SourceUID:  p.ObjUID,
		Filename:   filepath.Base(summary.FBXPath),
	}); err != nil {
		o.sagas.Rollback(sagaID, JobTypeConvert, fbxUID, fullRollback(fbxDir))
		return ConvertResult{}, apierr.New(apierr.CodeStorageError, "write fbx metadata sidecar", err)
	}

	if _, err := o.registry.Add(fbxUID, registry.KindObject3D, filepath.Base(summary.FBXPath), p.SessionID, p.ObjUID, map[string]any{
		"source":         objRec.Metadata["source"],
		"avatar_type":    avatarType,
		"converted_at":   time.Now().UTC().Format(time.RFC3339),
		"source_obj_uid": p.ObjUID,
	}); err != nil {
		o.sagas.Rollback(sagaID, JobTypeConvert, fbxUID, fullRollback(fbxDir))
		return ConvertResult{}, err
	}

	progress("transcoding", 100)
	return ConvertResult{FBXUID: fbxUID, FBXPath: summary.FBXPath}, nil
}

// meshFormatForUID reports which mesh format is present for a 3D object
// directory, preferring fbx over obj when both exist.
func meshFormatForUID(dir string) (format, path string, ok bool) {
	fbxCandidates, _ := filepath.Glob(filepath.Join(dir, "*.fbx"))
	if len(fbxCandidates) > 0 {
		return "fbx", fbxCandidates[0], true
	}
	objCandidates, _ := filepath.Glob(filepath.Join(dir, "*.obj"))
	if len(objCandidates) > 0 {
		return "obj", objCandidates[0], true
	}
	return "", "", false
}

func sanitizePathComponent(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		s = "unknown"
	}
	return s
}
