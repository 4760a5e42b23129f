// Package transform implements the Image/Video Transform Workers: style
// transforms and image-to-video generation built on the UID allocator,
// Resource Registry, Path Resolver, and the generative image/video and
// vision/video-intelligence provider clients.
package transform

import (
	"os"

	"github.com/scenehub/corehub/internal/config"
	"github.com/scenehub/corehub/internal/corehub/paths"
	"github.com/scenehub/corehub/internal/corehub/registry"
	"github.com/scenehub/corehub/internal/corehub/session"
	"github.com/scenehub/corehub/internal/corehub/uid"
	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/gcp"
	"github.com/scenehub/corehub/internal/platform/logger"
	"github.com/scenehub/corehub/internal/platform/openai"
)

const (
	uidKindImage = uid.KindImage
	uidKindVideo = uid.KindVideo
)

// Orchestrator composes the UID allocator, Resource Registry, Path
// Resolver, Session Store, and generative provider clients into the image
// transform and video generation operations. Vision, Video, and Uploader
// are optional enrichment dependencies: when nil, their best-effort steps
// are skipped rather than failing the operation.
type Orchestrator struct {
	log      *logger.Logger
	cfg      config.Config
	uids     *uid.Allocator
	registry *registry.Registry
	paths    *paths.Resolver
	sessions *session.Store
	provider openai.Client
	vision   gcp.Vision
	videoAI  gcp.Video
	uploader gcp.Uploader
}

// New builds an Orchestrator from its already-constructed dependencies.
// vision, videoAI, and uploader may be nil to disable their enrichment
// steps.
func New(
	log *logger.Logger,
	cfg config.Config,
	uids *uid.Allocator,
	reg *registry.Registry,
	p *paths.Resolver,
	sessions *session.Store,
	provider openai.Client,
	vision gcp.Vision,
	videoAI gcp.Video,
	uploader gcp.Uploader,
) *Orchestrator {
	return &Orchestrator{
		log:      log.With("service", "transform.Orchestrator"),
		cfg:      cfg,
		uids:     uids,
		registry: reg,
		paths:    p,
		sessions: sessions,
		provider: provider,
		vision:   vision,
		videoAI:  videoAI,
		uploader: uploader,
	}
}

// resolvedImage is a primary image ready to feed a provider call, along
// with the parent_uid the generated output should chain to (empty for an
// inline user upload that was never itself a Registry resource).
type resolvedImage struct {
	Data      []byte
	MimeType  string
	ParentUID string
}

// resolvePrimaryImage implements the three-tier input resolution chain: an
// explicit target_image_uid takes precedence over inline bytes, which in
// turn takes precedence over falling back to the session's latest image.
// A target_image_uid or inline image_data both being absent but
// session_id present means "use whatever the user last generated or
// uploaded in this session".
func (o *Orchestrator) resolvePrimaryImage(sessionID, targetImageUID string, inline []byte, inlineMime string) (resolvedImage, error) {
	if targetImageUID != "" {
		return o.loadImageByUID(targetImageUID)
	}
	if len(inline) > 0 {
		return resolvedImage{Data: inline, MimeType: inlineMime}, nil
	}
	if sessionID != "" {
		if latest := o.latestImageUID(sessionID); latest != "" {
			return o.loadImageByUID(latest)
		}
	}
	return resolvedImage{}, apierr.New(apierr.CodeAssetNotFound,
		"no source image: supply target_image_uid, inline image data, or a session with a prior image", nil).
		WithSuggestion("Provide target_image_uid, or take/upload a screenshot first.")
}

// loadImageByUID resolves uid through the Registry, validates it names an
// image (not a video or 3D object), and reads its bytes from the path
// recorded in metadata.file_path.
func (o *Orchestrator) loadImageByUID(uid string) (resolvedImage, error) {
	rec, err := o.registry.Get(uid)
	if err != nil {
		return resolvedImage{}, err
	}
	if rec.Kind != registry.KindImage {
		return resolvedImage{}, apierr.New(apierr.CodeInvalidUIDFormat,
			"expected an image uid, got "+string(rec.Kind)+": "+uid, nil)
	}
	filePath, _ := rec.Metadata["file_path"].(string)
	if filePath == "" {
		return resolvedImage{}, apierr.New(apierr.CodeAssetNotFound, "no file_path recorded for "+uid, nil)
	}
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return resolvedImage{}, apierr.New(apierr.CodeAssetNotFound, "read image file for "+uid, err)
	}
	mimeType, _ := rec.Metadata["mime_type"].(string)
	return resolvedImage{Data: raw, MimeType: mimeType, ParentUID: uid}, nil
}

// latestImageUID returns the most recently allocated image-kind record in
// sessionID, or "" if the session has none. ListBySession preserves
// allocation order, so the last matching entry is the most recent.
func (o *Orchestrator) latestImageUID(sessionID string) string {
	recs := o.registry.ListBySession(sessionID)
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Kind == registry.KindImage {
			return recs[i].UID
		}
	}
	return ""
}
