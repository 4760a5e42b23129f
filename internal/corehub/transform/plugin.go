package transform

import (
	"context"
	"strings"

	"github.com/scenehub/corehub/internal/corehub/jobmanager"
	corehubplugin "github.com/scenehub/corehub/internal/corehub/plugin"
	"github.com/scenehub/corehub/internal/platform/apierr"
)

const (
	CommandTransformImageStyle    = "transform_image_style"
	CommandGenerateVideoFromImage = "generate_video_from_image"

	// JobTypeGenerateVideo is the job_type video_generation registers with
	// the Job Manager: unlike image_transform, video generation routinely
	// takes minutes, so it runs as an async job rather than inline.
	JobTypeGenerateVideo = "generate_video_from_image"
)

// ImagePlugin wraps TransformImage as a synchronous corehub Plugin: style
// transforms complete in low single-digit seconds, comfortably within an
// HTTP request's budget, so there is no job to poll.
type ImagePlugin struct {
	o *Orchestrator
}

// NewImagePlugin builds the image_transform Plugin.
func NewImagePlugin(o *Orchestrator) *ImagePlugin { return &ImagePlugin{o: o} }

func (p *ImagePlugin) Metadata() corehubplugin.Metadata {
	return corehubplugin.Metadata{
		ToolID:       "image_transform",
		DisplayName:  "Image Style Transform",
		Version:      "1.0.0",
		Capabilities: []corehubplugin.Capability{corehubplugin.CapabilityImageEditing},
		Pricing:      corehubplugin.PricingStandard,
	}
}

func (p *ImagePlugin) SupportedCommands() []string { return []string{CommandTransformImageStyle} }
func (p *ImagePlugin) Initialize(ctx context.Context) error { return nil }
func (p *ImagePlugin) Shutdown(ctx context.Context) error  { return nil }

func (p *ImagePlugin) HealthCheck(ctx context.Context) corehubplugin.HealthStatus {
	if p.o.provider == nil {
		return corehubplugin.HealthUnavailable
	}
	return corehubplugin.HealthAvailable
}

func (p *ImagePlugin) Validate(commandType string, params map[string]any) corehubplugin.ValidationResult {
	var errs []string
	if commandType != CommandTransformImageStyle {
		return corehubplugin.ValidationResult{Valid: false, Errors: []string{"unsupported command type: " + commandType}}
	}
	mainPrompt, _ := params["main_prompt"].(string)
	stylePrompt, _ := params["style_prompt"].(string)
	refPrompts, _ := params["reference_prompts"].([]string)
	if strings.TrimSpace(mainPrompt) == "" && strings.TrimSpace(stylePrompt) == "" && len(refPrompts) == 0 {
		errs = append(errs, "style_prompt (or main_prompt/reference_prompts) is required")
	}
	targetUID, _ := params["target_image_uid"].(string)
	_, hasInline := params["main_image_data"].([]byte)
	sessionID, _ := params["session_id"].(string)
	if targetUID == "" && !hasInline && sessionID == "" {
		errs = append(errs, "one of target_image_uid, main_image_data, or session_id is required")
	}
	if intensity, ok := params["intensity"].(float64); ok && (intensity < 0.1 || intensity > 1.0) {
		errs = append(errs, "intensity must be between 0.1 and 1.0")
	}
	return corehubplugin.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Preprocess composes main_prompt/reference_prompts into a single
// style_prompt and fills in the intensity default, carrying out the
// dispatcher's documented prompt-composition responsibility for this
// command type.
func (p *ImagePlugin) Preprocess(ctx context.Context, commandType string, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if _, ok := out["intensity"]; !ok {
		out["intensity"] = 0.8
	}
	if existing, _ := out["style_prompt"].(string); strings.TrimSpace(existing) == "" {
		mainPrompt, _ := out["main_prompt"].(string)
		var refPrompts []string
		if rs, ok := out["reference_prompts"].([]string); ok {
			refPrompts = rs
		}
		out["style_prompt"] = composeStylePrompt(mainPrompt, refPrompts)
	}
	return out, nil
}

func (p *ImagePlugin) Execute(ctx context.Context, commandType string, params map[string]any) corehubplugin.CommandResult {
	if v := p.Validate(commandType, params); !v.Valid {
		return corehubplugin.CommandResult{Success: false, Err: apierr.New(apierr.CodeValidationFailed, "invalid parameters for "+commandType, nil)}
	}
	sessionID, _ := params["session_id"].(string)
	targetUID, _ := params["target_image_uid"].(string)
	inline, _ := params["main_image_data"].([]byte)
	inlineMime, _ := params["main_image_mime_type"].(string)
	stylePrompt, _ := params["style_prompt"].(string)
	intensity, _ := params["intensity"].(float64)

	result, err := p.o.TransformImage(ctx, TransformImageParams{
		SessionID:       sessionID,
		TargetImageUID:  targetUID,
		InlineImageData: inline,
		InlineMimeType:  inlineMime,
		StylePrompt:     stylePrompt,
		Intensity:       intensity,
		ReferenceImages: extractReferenceImages(params["reference_images"]),
	})
	if err != nil {
		return corehubplugin.CommandResult{Success: false, Err: asTransformAPIErr(err)}
	}
	return corehubplugin.CommandResult{
		Success: true,
		Mode:    corehubplugin.ModeSync,
		Result: map[string]any{
			"image_uid":       result.ImageUID,
			"parent_uid":      result.ParentUID,
			"filename":        result.Filename,
			"original_width":  result.OriginalWidth,
			"original_height": result.OriginalHeight,
			"processed_width": result.ProcessedWidth,
			"processed_height": result.ProcessedHeight,
			"style_prompt":    result.StylePrompt,
			"reference_count": result.ReferenceCount,
			"pricing":         result.Pricing,
		},
	}
}

func extractReferenceImages(v any) []ReferenceImage {
	raw, ok := v.([]map[string]any)
	if !ok {
		return nil
	}
	out := make([]ReferenceImage, 0, len(raw))
	for _, m := range raw {
		data, _ := m["data"].([]byte)
		mime, _ := m["mime_type"].(string)
		if len(data) == 0 {
			continue
		}
		out = append(out, ReferenceImage{Data: data, MimeType: mime})
	}
	return out
}

// composeStylePrompt delegates to the shared prompt-composition rule
// (concatenate main + reference prompts, truncate at 800 chars, route
// non-Latin input through translate). No translation provider is wired
// up yet, so non-Latin prompts fall back to the untranslated, truncated
// form rather than failing the request.
func composeStylePrompt(mainPrompt string, referencePrompts []string) string {
	composed, err := corehubplugin.ComposePrompt(mainPrompt, referencePrompts, nil)
	if err != nil {
		return "Transform the image with artistic style"
	}
	if strings.TrimSpace(composed) == "" {
		return "Transform the image with artistic style"
	}
	return composed
}

// VideoPlugin wraps GenerateVideo as an asynchronous corehub Plugin: Veo
// generations routinely take minutes, so Execute submits a job and
// returns immediately rather than blocking the caller.
type VideoPlugin struct {
	o   *Orchestrator
	mgr *jobmanager.Manager
}

// NewVideoPlugin builds the video_generation Plugin. mgr must already
// have had RegisterHandlers called on it.
func NewVideoPlugin(o *Orchestrator, mgr *jobmanager.Manager) *VideoPlugin {
	return &VideoPlugin{o: o, mgr: mgr}
}

// RegisterHandlers wires generate_video_from_image into mgr.
func (p *VideoPlugin) RegisterHandlers() {
	p.mgr.RegisterHandler(JobTypeGenerateVideo, func(rc *jobmanager.RunContext) {
		params := rc.Payload()
		rc.Progress("generating_video", 5)
		result, err := p.o.GenerateVideo(rc.Ctx, videoParamsFromMap(params))
		if err != nil {
			rc.Fail(asTransformAPIErr(err))
			return
		}
		rc.Succeed(map[string]any{
			"video_uid":        result.VideoUID,
			"parent_uid":       result.ParentUID,
			"filename":         result.Filename,
			"width":            result.Width,
			"height":           result.Height,
			"duration_seconds": result.DurationSeconds,
			"pricing":          result.Pricing,
		})
	})
}

func (p *VideoPlugin) Metadata() corehubplugin.Metadata {
	return corehubplugin.Metadata{
		ToolID:       "video_generation",
		DisplayName:  "Image-to-Video Generation",
		Version:      "1.0.0",
		Capabilities: []corehubplugin.Capability{corehubplugin.CapabilityVideoGeneration},
		Pricing:      corehubplugin.PricingPremium,
	}
}

func (p *VideoPlugin) SupportedCommands() []string { return []string{CommandGenerateVideoFromImage} }
func (p *VideoPlugin) Initialize(ctx context.Context) error { return nil }
func (p *VideoPlugin) Shutdown(ctx context.Context) error  { return nil }

func (p *VideoPlugin) HealthCheck(ctx context.Context) corehubplugin.HealthStatus {
	if p.o.provider == nil {
		return corehubplugin.HealthUnavailable
	}
	return corehubplugin.HealthAvailable
}

func (p *VideoPlugin) Validate(commandType string, params map[string]any) corehubplugin.ValidationResult {
	var errs []string
	if commandType != CommandGenerateVideoFromImage {
		return corehubplugin.ValidationResult{Valid: false, Errors: []string{"unsupported command type: " + commandType}}
	}
	if s, _ := params["prompt"].(string); strings.TrimSpace(s) == "" {
		errs = append(errs, "prompt is required")
	}
	imageUID, _ := params["image_uid"].(string)
	sessionID, _ := params["session_id"].(string)
	if imageUID == "" && sessionID == "" {
		errs = append(errs, "image_uid is required (or session_id to auto-resolve the latest image)")
	}
	if ar, ok := params["aspect_ratio"].(string); ok && ar != "" && ar != "16:9" && ar != "9:16" {
		errs = append(errs, "aspect_ratio must be 16:9 or 9:16")
	}
	if res, ok := params["resolution"].(string); ok && res != "" && res != "720p" && res != "1080p" {
		errs = append(errs, "resolution must be 720p or 1080p")
	}
	return corehubplugin.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// Preprocess auto-resolves image_uid from the session's latest image when
// the caller did not supply one directly. GenerateVideo itself never does
// this lookup: it hard-requires an already-resolved image uid, so the
// fallback lives here, at the same dispatch layer every other plugin's
// parameter composition happens.
func (p *VideoPlugin) Preprocess(ctx context.Context, commandType string, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if imageUID, _ := out["image_uid"].(string); imageUID == "" {
		if sessionID, _ := out["session_id"].(string); sessionID != "" {
			if latest := p.o.latestImageUID(sessionID); latest != "" {
				out["image_uid"] = latest
			}
		}
	}
	return out, nil
}

func (p *VideoPlugin) Execute(ctx context.Context, commandType string, params map[string]any) corehubplugin.CommandResult {
	if v := p.Validate(commandType, params); !v.Valid {
		return corehubplugin.CommandResult{Success: false, Err: apierr.New(apierr.CodeValidationFailed, "invalid parameters for "+commandType, nil)}
	}
	sessionID, _ := params["session_id"].(string)
	imageUID, _ := params["image_uid"].(string)
	job, err := p.mgr.Submit(JobTypeGenerateVideo, sessionID, imageUID, params)
	if err != nil {
		return corehubplugin.CommandResult{Success: false, Err: asTransformAPIErr(err)}
	}
	return corehubplugin.CommandResult{Success: true, Mode: corehubplugin.ModeAsync, JobID: job.ID}
}

func videoParamsFromMap(params map[string]any) GenerateVideoParams {
	sessionID, _ := params["session_id"].(string)
	imageUID, _ := params["image_uid"].(string)
	prompt, _ := params["prompt"].(string)
	aspectRatio, _ := params["aspect_ratio"].(string)
	resolution, _ := params["resolution"].(string)
	negativePrompt, _ := params["negative_prompt"].(string)
	return GenerateVideoParams{
		SessionID:      sessionID,
		ImageUID:       imageUID,
		Prompt:         prompt,
		AspectRatio:    aspectRatio,
		Resolution:     resolution,
		NegativePrompt: negativePrompt,
	}
}

func asTransformAPIErr(err error) *apierr.Error {
	if apiErr, ok := err.(*apierr.Error); ok {
		return apiErr
	}
	return apierr.New(apierr.CodeCommandFailed, err.Error(), err)
}
