package pipeline

import (
	"context"

	"github.com/scenehub/corehub/internal/config"
	"github.com/scenehub/corehub/internal/corehub/jobmanager"
	"github.com/scenehub/corehub/internal/corehub/paths"
	"github.com/scenehub/corehub/internal/corehub/registry"
	"github.com/scenehub/corehub/internal/corehub/uid"
	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/logger"
	"github.com/scenehub/corehub/internal/platform/transcoder"
)

const (
	uidKindObject3D = uid.KindObject3D
	uidKindFBX      = uid.KindFBX
)

// JobTypeDownload, JobTypeConvert, JobTypeImport, and JobTypeFull are the
// job_type values this package registers with the Job Manager.
const (
	JobTypeDownload = "roblox_download_avatar"
	JobTypeConvert  = "roblox_convert_to_fbx"
	JobTypeImport   = "roblox_import_to_editor"
	JobTypeFull     = "download_and_import_roblox_avatar"
)

// Orchestrator composes the UID allocator, Resource Registry, Path
// Resolver, external transcoder, editor bridge, and saga journal into the
// three asset pipeline sub-jobs plus their full composition.
type Orchestrator struct {
	log        *logger.Logger
	cfg        config.Config
	uids       *uid.Allocator
	registry   *registry.Registry
	paths      *paths.Resolver
	transcoder *transcoder.Transcoder
	roblox     *robloxClient
	sagas      *SagaJournal
}

// New builds an Orchestrator from its already-constructed dependencies. It
// opens the saga journal at p.SagaJournalPath but does not replay it;
// callers should call Sagas().ReplayPending() once at startup after every
// other dependency is ready.
func New(log *logger.Logger, cfg config.Config, uids *uid.Allocator, reg *registry.Registry, p *paths.Resolver, tc *transcoder.Transcoder) (*Orchestrator, error) {
	sagas, err := NewSagaJournal(log, uids, p.SagaJournalPath())
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		log:        log.With("service", "pipeline.Orchestrator"),
		cfg:        cfg,
		uids:       uids,
		registry:   reg,
		paths:      p,
		transcoder: tc,
		roblox:     newRobloxClient(cfg.PipelineMetadataMaxAttempts),
		sagas:      sagas,
	}, nil
}

// Sagas exposes the durable compensation journal so callers can replay
// pending rollbacks left by a prior crash once the rest of startup has
// completed.
func (o *Orchestrator) Sagas() *SagaJournal { return o.sagas }

// DownloadAndImport runs the full composed pipeline: A -> B -> C, checking
// cancellation at each checkpoint and bounding the download phase with the
// configured ceiling.
func (o *Orchestrator) DownloadAndImport(ctx context.Context, rc *jobmanager.RunContext, sessionID, userInput string) (FullResult, error) {
	dctx := ctx
	if o.cfg.PipelineDownloadCeiling > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, o.cfg.PipelineDownloadCeiling)
		defer cancel()
	}

	download, err := o.Download(dctx, rc, DownloadParams{SessionID: sessionID, UserInput: userInput})
	if err != nil {
		return FullResult{}, err
	}
	if rc != nil && rc.Cancelled() {
		return FullResult{}, apierr.New(apierr.CodeJobCancelled, "cancelled after download", nil)
	}

	convert, err := o.Convert(ctx, rc, ConvertParams{SessionID: sessionID, ObjUID: download.ObjUID})
	if err != nil {
		return FullResult{}, err
	}
	if rc != nil && rc.Cancelled() {
		return FullResult{}, apierr.New(apierr.CodeJobCancelled, "cancelled after convert", nil)
	}

	imported, err := o.Import(ctx, rc, ImportParams{UID: convert.FBXUID})
	if err != nil {
		return FullResult{}, err
	}

	return FullResult{
		ObjUID:    download.ObjUID,
		FBXUID:    convert.FBXUID,
		AssetPath: imported.AssetPath,
	}, nil
}

// FullResult is the outcome of the composed download_and_import flow.
type FullResult struct {
	ObjUID    string `json:"obj_uid"`
	FBXUID    string `json:"fbx_uid"`
	AssetPath string `json:"asset_path"`
}

// RegisterHandlers wires every sub-job and the full pipeline into mgr as
// Job Manager handlers, so HTTP/dispatcher callers submit jobs by job_type
// rather than calling the Orchestrator directly.
func (o *Orchestrator) RegisterHandlers(mgr *jobmanager.Manager) {
	mgr.RegisterHandler(JobTypeDownload, func(rc *jobmanager.RunContext) {
		params := rc.Payload()
		sessionID, _ := params["session_id"].(string)
		userInput, _ := params["user_input"].(string)
		result, err := o.Download(rc.Ctx, rc, DownloadParams{SessionID: sessionID, UserInput: userInput})
		if err != nil {
			rc.Fail(asAPIErr(err))
			return
		}
		rc.Succeed(map[string]any{"obj_uid": result.ObjUID, "avatar_type": result.AvatarType, "username": result.Username})
	})

	mgr.RegisterHandler(JobTypeConvert, func(rc *jobmanager.RunContext) {
		params := rc.Payload()
		sessionID, _ := params["session_id"].(string)
		objUID, _ := params["obj_uid"].(string)
		result, err := o.Convert(rc.Ctx, rc, ConvertParams{SessionID: sessionID, ObjUID: objUID})
		if err != nil {
			rc.Fail(asAPIErr(err))
			return
		}
		rc.Succeed(map[string]any{"fbx_uid": result.FBXUID, "fbx_path": result.FBXPath})
	})

	mgr.RegisterHandler(JobTypeImport, func(rc *jobmanager.RunContext) {
		params := rc.Payload()
		targetUID, _ := params["uid"].(string)
		result, err := o.Import(rc.Ctx, rc, ImportParams{UID: targetUID})
		if err != nil {
			rc.Fail(asAPIErr(err))
			return
		}
		rc.Succeed(map[string]any{"asset_path": result.AssetPath})
	})

	mgr.RegisterHandler(JobTypeFull, func(rc *jobmanager.RunContext) {
		params := rc.Payload()
		sessionID, _ := params["session_id"].(string)
		userInput, _ := params["user_input"].(string)
		result, err := o.DownloadAndImport(rc.Ctx, rc, sessionID, userInput)
		if err != nil {
			rc.Fail(asAPIErr(err))
			return
		}
		rc.Succeed(map[string]any{"obj_uid": result.ObjUID, "fbx_uid": result.FBXUID, "asset_path": result.AssetPath})
	})
}

func asAPIErr(err error) *apierr.Error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*apierr.Error); ok {
		return apiErr
	}
	return apierr.New(apierr.CodeCommandFailed, err.Error(), err)
}
