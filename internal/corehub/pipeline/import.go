package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/scenehub/corehub/internal/corehub/jobmanager"
	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/editorbridge"
)

// ImportParams is the input to Sub-job C.
type ImportParams struct {
	UID string // obj_* or fbx_*
}

// ImportResult is what Sub-job C returns.
type ImportResult struct {
	AssetPath string `json:"asset_path"`
}

// Import runs Sub-job C: read the mesh directory's metadata sidecar, build
// the editor-side import command packet, dial a fresh editor connection
// (the long-lived one used during polling may have aged out), and dispatch
// the import.
func (o *Orchestrator) Import(ctx context.Context, rc *jobmanager.RunContext, p ImportParams) (ImportResult, error) {
	progress := func(stage string, pct int) {
		if rc != nil {
			rc.Progress(stage, pct)
		}
	}

	if _, err := o.registry.Get(p.UID); err != nil {
		return ImportResult{}, err
	}
	dir := o.paths.Object3DDir(p.UID)
	sidecar, err := readMetadataSidecar(dir)
	if err != nil {
		return ImportResult{}, apierr.New(apierr.CodeAssetNotFound, "read metadata sidecar for "+p.UID, err)
	}
	if sidecar.Username == "" || sidecar.UserID == "" {
		return ImportResult{}, apierr.New(apierr.CodeAssetNotFound, "metadata sidecar missing username/user_id for "+p.UID, nil)
	}

	format, meshPath, ok := meshFormatForUID(dir)
	if !ok {
		return ImportResult{}, apierr.New(apierr.CodeAssetNotFound, "no mesh file (obj or fbx) found for "+p.UID, nil)
	}

	progress("connecting", 10)
	client, err := editorbridge.NewFresh(ctx, o.log, editorbridge.Config{Host: o.cfg.EditorHost, Port: o.cfg.EditorPort})
	if err != nil {
		return ImportResult{}, err
	}
	defer client.Close()

	contentPath := fmt.Sprintf("/UnrealMCP/Assets/Roblox/%s_%s/", sanitizePathComponent(sidecar.Username), sanitizePathComponent(sidecar.UserID))

	reqParams := map[string]any{
		"mesh_path":    meshPath,
		"mesh_format":  format,
		"username":     sidecar.Username,
		"user_id":      sidecar.UserID,
		"content_path": contentPath,
	}
	if mtl, ok := findSibling(dir, "*.mtl"); ok {
		reqParams["mtl_path"] = mtl
	}
	if texDir, ok := textureDirFor(dir); ok {
		reqParams["textures_dir"] = texDir
	}

	progress("importing", 40)
	resp, err := client.Send(ctx, editorbridge.Request{Type: "import_object3d_by_uid", Params: reqParams})
	if err != nil {
		return ImportResult{}, err
	}

	assetPath, _ := resp.Result["asset_path"].(string)
	if assetPath == "" {
		assetPath = filepath.Join(contentPath, filepath.Base(meshPath))
	}

	_, _ = o.registry.UpdateMetadata(p.UID, map[string]any{"imported": true, "asset_path": assetPath})

	progress("importing", 100)
	return ImportResult{AssetPath: assetPath}, nil
}

func findSibling(dir, pattern string) (string, bool) {
	matches, _ := filepath.Glob(filepath.Join(dir, pattern))
	if len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

func textureDirFor(dir string) (string, bool) {
	p := filepath.Join(dir, "textures")
	matches, _ := filepath.Glob(p)
	if len(matches) == 0 {
		return "", false
	}
	return p, true
}
