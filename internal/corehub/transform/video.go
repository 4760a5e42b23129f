package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scenehub/corehub/internal/corehub/registry"
	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/gcp"
	"github.com/scenehub/corehub/internal/platform/openai"
)

// defaultVideoDurationSeconds matches the provider's fixed clip length;
// there is no per-request duration control.
const defaultVideoDurationSeconds = 8

// GenerateVideoParams is the input to GenerateVideo. Unlike TransformImage,
// ImageUID is required here and is never resolved from a session fallback
// inside the Orchestrator: that auto-assignment, when wanted, happens one
// layer up in the video_generation plugin's Preprocess step, the same
// place the dispatcher's other prompt/parameter composition lives.
type GenerateVideoParams struct {
	SessionID      string
	ImageUID       string
	Prompt         string
	AspectRatio    string // "16:9" or "9:16", default "16:9"
	Resolution     string // "720p" or "1080p", default "720p"
	NegativePrompt string
}

// GenerateVideoResult is the outcome of a completed video generation.
type GenerateVideoResult struct {
	VideoUID        string
	ParentUID       string
	Filename        string
	Path            string
	Width           int
	Height          int
	DurationSeconds int
	Pricing         PricingQuote
}

// GenerateVideo resolves the source image strictly by uid (kind-checked
// against the Registry), invokes the video provider (which polls
// internally until the job completes or times out), and persists the
// result chained to its source image via parent_uid.
func (o *Orchestrator) GenerateVideo(ctx context.Context, p GenerateVideoParams) (GenerateVideoResult, error) {
	if p.Prompt == "" {
		return GenerateVideoResult{}, apierr.New(apierr.CodeValidationFailed, "prompt is required", nil)
	}
	if p.ImageUID == "" {
		return GenerateVideoResult{}, apierr.New(apierr.CodeAssetNotFound,
			"video generation requires a source image", nil).
			WithSuggestion("Provide image_uid, or take/upload a screenshot first.")
	}
	rec, err := o.registry.Get(p.ImageUID)
	if err != nil {
		return GenerateVideoResult{}, err
	}
	if rec.Kind != registry.KindImage {
		return GenerateVideoResult{}, apierr.New(apierr.CodeInvalidUIDFormat,
			"image_uid must reference an image, got "+string(rec.Kind)+": "+p.ImageUID, nil)
	}

	aspectRatio := p.AspectRatio
	if aspectRatio == "" {
		aspectRatio = "16:9"
	}
	if aspectRatio != "16:9" && aspectRatio != "9:16" {
		return GenerateVideoResult{}, apierr.New(apierr.CodeValidationFailed, "aspect_ratio must be 16:9 or 9:16", nil)
	}
	resolution := p.Resolution
	if resolution == "" {
		resolution = "720p"
	}
	if resolution != "720p" && resolution != "1080p" {
		return GenerateVideoResult{}, apierr.New(apierr.CodeValidationFailed, "resolution must be 720p or 1080p", nil)
	}
	width, height := videoDimensions(aspectRatio, resolution)

	gen, err := o.provider.GenerateVideo(ctx, p.Prompt, openai.VideoGenerationOptions{
		DurationSeconds: defaultVideoDurationSeconds,
		Size:            fmt.Sprintf("%dx%d", width, height),
	})
	if err != nil {
		return GenerateVideoResult{}, asTransformErr(err, apierr.CodeVideoGenerationFail, "video generation")
	}

	videoUID, err := o.uids.Next(uidKindVideo)
	if err != nil {
		return GenerateVideoResult{}, apierr.New(apierr.CodeUIDGenerationFailed, "allocate video uid", err)
	}
	filename := videoUID + "_" + time.Now().UTC().Format("20060102") + ".mp4"
	dir := o.paths.GeneratedVideosDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = o.uids.Rollback(uidKindVideo)
		return GenerateVideoResult{}, apierr.New(apierr.CodeStorageError, "create generated videos directory", err)
	}
	outPath := filepath.Join(dir, filename)
	if err := os.WriteFile(outPath, gen.Bytes, 0o644); err != nil {
		_ = o.uids.Rollback(uidKindVideo)
		return GenerateVideoResult{}, apierr.New(apierr.CodeStorageError, "write generated video", err)
	}

	pricing := videoPricingQuote(defaultVideoDurationSeconds)

	if _, err := o.registry.Add(videoUID, registry.KindVideo, filename, p.SessionID, p.ImageUID, map[string]any{
		"file_path":        outPath,
		"width":            width,
		"height":           height,
		"duration_seconds": defaultVideoDurationSeconds,
		"prompt":           p.Prompt,
		"aspect_ratio":     aspectRatio,
		"resolution":       resolution,
		"cost_usd":         pricing.TotalUSD,
	}); err != nil {
		_ = os.Remove(outPath)
		_ = o.uids.Rollback(uidKindVideo)
		return GenerateVideoResult{}, err
	}

	o.annotateVideoBestEffort(ctx, videoUID, outPath, gen.MimeType)

	return GenerateVideoResult{
		VideoUID:        videoUID,
		ParentUID:       p.ImageUID,
		Filename:        filename,
		Path:            outPath,
		Width:           width,
		Height:          height,
		DurationSeconds: defaultVideoDurationSeconds,
		Pricing:         pricing,
	}, nil
}

// videoDimensions maps the resolution/aspect_ratio pair to pixel
// dimensions.
func videoDimensions(aspectRatio, resolution string) (int, int) {
	switch resolution {
	case "1080p":
		if aspectRatio == "9:16" {
			return 1080, 1920
		}
		return 1920, 1080
	default:
		if aspectRatio == "9:16" {
			return 720, 1280
		}
		return 1280, 720
	}
}

// annotateVideoBestEffort uploads the generated video to the configured
// GCS bucket and runs shot-change annotation over it, attaching a shot
// count to the Registry record. Every failure is logged and swallowed:
// this is pure enrichment, never a correctness requirement.
func (o *Orchestrator) annotateVideoBestEffort(ctx context.Context, videoUID, path, mimeType string) {
	if o.uploader == nil || o.videoAI == nil || o.cfg.GCSBucket == "" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		o.log.Warn("video annotation: read generated video failed", "video_uid", videoUID, "error", err)
		return
	}
	object := "transform-videos/" + filepath.Base(path)
	gsURI, err := o.uploader.UploadObject(ctx, o.cfg.GCSBucket, object, raw, mimeType)
	if err != nil {
		o.log.Warn("video annotation: gcs upload failed", "video_uid", videoUID, "error", err)
		return
	}
	result, err := o.videoAI.AnnotateVideoGCS(ctx, gsURI, gcp.VideoAIConfig{EnableShotChangeDetection: true})
	if err != nil {
		o.log.Warn("video annotation: annotate failed", "video_uid", videoUID, "error", err)
		return
	}
	_, _ = o.registry.UpdateMetadata(videoUID, map[string]any{"shot_count": len(result.ShotSegments), "gcs_uri": gsURI})
}
