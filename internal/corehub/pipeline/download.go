package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/scenehub/corehub/internal/corehub/jobmanager"
	"github.com/scenehub/corehub/internal/corehub/registry"
	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/atomicfile"
)

// DownloadParams is the input to Sub-job A.
type DownloadParams struct {
	SessionID string
	UserInput string
}

// DownloadResult is what Sub-job A publishes to the Registry and hands to
// Sub-job B.
type DownloadResult struct {
	ObjUID      string       `json:"obj_uid"`
	Username    string       `json:"username"`
	UserID      int64        `json:"user_id"`
	AvatarType  string       `json:"avatar_type"`
	ObjPath     string       `json:"obj_path"`
	MtlPath     string       `json:"mtl_path,omitempty"`
	TexturesDir string       `json:"textures_dir,omitempty"`
	Structure   objStructure `json:"obj_structure"`
	Reused      bool         `json:"reused_uid"`
}

// Download runs Sub-job A: resolve the user, poll for 3D metadata, download
// the OBJ/MTL/textures, analyze the mesh, and publish a Registry record.
// rc is optional; when non-nil its Progress/Cancelled checkpoints are used.
func (o *Orchestrator) Download(ctx context.Context, rc *jobmanager.RunContext, p DownloadParams) (DownloadResult, error) {
	progress := func(stage string, pct int) {
		if rc != nil {
			rc.Progress(stage, pct)
		}
	}
	cancelled := func() bool { return rc != nil && rc.Cancelled() }

	progress("resolving_user", 0)
	user, err := o.roblox.resolveUser(ctx, p.UserInput)
	if err != nil {
		return DownloadResult{}, err
	}
	if cancelled() {
		return DownloadResult{}, apierr.New(apierr.CodeJobCancelled, "cancelled after resolving user", nil)
	}
	progress("resolving_user", 10)

	existing := o.registry.FindBySource(p.SessionID, user.Name, strconv.FormatInt(user.ID, 10))
	var reuseUID string
	if len(existing) == 1 {
		reuseUID = existing[0].UID
	}
	for _, rec := range existing {
		if rec.UID == reuseUID {
			continue
		}
		_ = os.RemoveAll(o.paths.Object3DDir(rec.UID))
		_ = o.registry.DeleteByUID(rec.UID)
	}

	progress("fetching_metadata", 10)
	meta, err := o.roblox.fetchAvatar3DMetadata(ctx, user.ID, o.cfg.PipelineDownloadPollInterval)
	if err != nil {
		return DownloadResult{}, err
	}
	if cancelled() {
		return DownloadResult{}, apierr.New(apierr.CodeJobCancelled, "cancelled after fetching metadata", nil)
	}
	progress("fetching_metadata", 25)

	objUID := reuseUID
	var objCounter int
	if objUID == "" {
		objUID, err = o.uids.Next(uidKindObject3D)
		if err != nil {
			return DownloadResult{}, apierr.New(apierr.CodeUIDGenerationFailed, "allocate obj uid", err)
		}
		objCounter = o.uids.Current(uidKindObject3D)
	}
	objDir := o.paths.Object3DDir(objUID)
	sagaID := "download:" + objUID
	uidOnlyRollback := []SagaAction{{Type: SagaActionRollbackUID, UIDKind: uidKindObject3D, ExpectedCounter: objCounter}}
	fullRollback := []SagaAction{
		{Type: SagaActionRemoveDir, Path: objDir},
		{Type: SagaActionRollbackUID, UIDKind: uidKindObject3D, ExpectedCounter: objCounter},
	}
	if err := os.MkdirAll(objDir, 0o755); err != nil {
		return DownloadResult{}, apierr.New(apierr.CodeStorageError, "create object directory", err)
	}

	progress("downloading_model (OBJ + MTL)", 25)
	if !validHash(meta.Obj) {
		return DownloadResult{}, apierr.New(apierr.CodeDownloadFailed, "avatar metadata missing obj content hash", nil)
	}
	objBytes, err := o.roblox.downloadHash(ctx, meta.Obj)
	if err != nil {
		if objUID != reuseUID {
			o.sagas.Rollback(sagaID, JobTypeDownload, objUID, uidOnlyRollback)
		}
		return DownloadResult{}, apierr.New(apierr.CodeDownloadFailed, "download obj model (fatal for this job)", err)
	}
	objPath := filepath.Join(objDir, "avatar.obj")
	if err := os.WriteFile(objPath, objBytes, 0o644); err != nil {
		return DownloadResult{}, apierr.New(apierr.CodeStorageError, "write obj file", err)
	}

	var mtlPath string
	if validHash(meta.Mtl) {
		if mtlBytes, err := o.roblox.downloadHash(ctx, meta.Mtl); err == nil {
			mtlPath = filepath.Join(objDir, "avatar.mtl")
			_ = os.WriteFile(mtlPath, mtlBytes, 0o644)
		}
	}
	progress("downloading_model (OBJ + MTL)", 70)
	if cancelled() {
		if objUID != reuseUID {
			o.sagas.Rollback(sagaID, JobTypeDownload, objUID, fullRollback)
		}
		return DownloadResult{}, apierr.New(apierr.CodeJobCancelled, "cancelled after downloading_model", nil)
	}

	progress("downloading_textures", 70)
	var texturesDir string
	if len(meta.Textures) > 0 {
		texturesDir = filepath.Join(objDir, "textures")
		_ = os.MkdirAll(texturesDir, 0o755)
		for name, v := range meta.Textures {
			hash, ok := v.(string)
			if !ok || !validHash(hash) {
				continue
			}
			// Individual texture failures are non-fatal; the model itself
			// already succeeded.
			if raw, err := o.roblox.downloadHash(ctx, hash); err == nil {
				safeName := strings.ReplaceAll(filepath.Base(name), "..", "")
				_ = os.WriteFile(filepath.Join(texturesDir, safeName+".png"), raw, 0o644)
			}
		}
	}
	progress("downloading_textures", 85)
	if cancelled() {
		if objUID != reuseUID {
			o.sagas.Rollback(sagaID, JobTypeDownload, objUID, fullRollback)
		}
		return DownloadResult{}, apierr.New(apierr.CodeJobCancelled, "cancelled after downloading_textures", nil)
	}

	progress("processing_files (metadata + README generation, bounding analysis)", 85)
	structure, err := analyzeOBJFile(objPath)
	if err != nil {
		return DownloadResult{}, apierr.New(apierr.CodeStorageError, "analyze obj structure", err)
	}
	avatarType := o.extractAvatarType(ctx, user.ID, structure)
	if cancelled() {
		if objUID != reuseUID {
			o.sagas.Rollback(sagaID, JobTypeDownload, objUID, fullRollback)
		}
		return DownloadResult{}, apierr.New(apierr.CodeJobCancelled, "cancelled after processing_files", nil)
	}

	result := DownloadResult{
		ObjUID:      objUID,
		Username:    user.Name,
		UserID:      user.ID,
		AvatarType:  avatarType,
		ObjPath:     objPath,
		MtlPath:     mtlPath,
		TexturesDir: texturesDir,
		Structure:   structure,
		Reused:      reuseUID != "",
	}

	metadata := map[string]any{
		"source": map[string]any{
			"platform": "roblox",
			"username": user.Name,
			"user_id":  strconv.FormatInt(user.ID, 10),
		},
		"avatar_type":   avatarType,
		"obj_structure": structure,
		"downloaded_at": time.Now().UTC().Format(time.RFC3339),
		"mtl_path":      mtlPath,
		"textures_dir":  texturesDir,
	}
	if reuseUID != "" {
		if _, err := o.registry.UpdateMetadata(objUID, metadata); err != nil {
			return DownloadResult{}, err
		}
	} else {
		if _, err := o.registry.Add(objUID, registry.KindObject3D, filepath.Base(objPath), p.SessionID, "", metadata); err != nil {
			o.sagas.Rollback(sagaID, JobTypeDownload, objUID, uidOnlyRollback)
			return DownloadResult{}, err
		}
	}

	if err := writeMetadataSidecar(objDir, metadataSidecar{
		Username:   user.Name,
		UserID:     strconv.FormatInt(user.ID, 10),
		AvatarType: avatarType,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		SourceUID:  objUID,
	}); err != nil {
		return DownloadResult{}, apierr.New(apierr.CodeStorageError, "write obj metadata sidecar", err)
	}

	progress("processing_files (metadata + README generation, bounding analysis)", 100)
	return result, nil
}

// extractAvatarType follows the avatar_config.playerAvatarType -> OBJ
// heuristic precedence order, falling back to "Unknown" if neither source
// yields a confident classification.
func (o *Orchestrator) extractAvatarType(ctx context.Context, userID int64, structure objStructure) string {
	if at, err := o.roblox.fetchAvatarConfigType(ctx, userID); err == nil && at != "" {
		return at
	}
	return inferRigFromGroups(structure.Groups)
}

type metadataSidecar struct {
	Username   string `json:"username"`
	UserID     string `json:"user_id"`
	AvatarType string `json:"avatar_type,omitempty"`
	Timestamp  string `json:"timestamp"`
	SourceUID  string `json:"source_obj_uid,omitempty"`
	Filename   string `json:"filename,omitempty"`
}

func writeMetadataSidecar(dir string, m metadataSidecar) error {
	return atomicfile.WriteJSON(sidecarPath(dir), m)
}

func sidecarPath(dir string) string {
	return filepath.Join(dir, "metadata.json")
}

func readMetadataSidecar(dir string) (metadataSidecar, error) {
	var m metadataSidecar
	err := atomicfile.ReadJSON(sidecarPath(dir), &m)
	return m, err
}
