package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scenehub/corehub/internal/corehub/registry"
	"github.com/scenehub/corehub/internal/platform/apierr"
	"github.com/scenehub/corehub/internal/platform/gcp"
)

const (
	referenceMinBytes = 500
	maxReferenceImages = 3
)

// ReferenceImage is one additional style/pose reference supplied alongside
// the primary image for a transform.
type ReferenceImage struct {
	Data     []byte
	MimeType string
}

// TransformImageParams is the input to TransformImage. When both
// TargetImageUID and InlineImageData are supplied, TargetImageUID wins.
type TransformImageParams struct {
	SessionID       string
	TargetImageUID  string
	InlineImageData []byte
	InlineMimeType  string
	StylePrompt     string
	Intensity       float64
	ReferenceImages []ReferenceImage
}

// TransformImageResult is the outcome of a completed style transform.
type TransformImageResult struct {
	ImageUID        string
	ParentUID       string
	Filename        string
	Path            string
	OriginalWidth   int
	OriginalHeight  int
	ProcessedWidth  int
	ProcessedHeight int
	StylePrompt     string
	ReferenceCount  int
	Pricing         PricingQuote
	Labels          []gcp.VisionLabel
}

// TransformImage resolves a primary image (by uid, inline bytes, or the
// session's latest image), filters out undersized references, guards
// against oversized requests, invokes the generative image editor, and
// persists the result as a new Registry record chained to its source via
// parent_uid.
func (o *Orchestrator) TransformImage(ctx context.Context, p TransformImageParams) (TransformImageResult, error) {
	if strings.TrimSpace(p.StylePrompt) == "" {
		return TransformImageResult{}, apierr.New(apierr.CodeValidationFailed, "style_prompt is required", nil)
	}
	intensity := p.Intensity
	if intensity == 0 {
		intensity = 0.8
	}
	if intensity < 0.1 || intensity > 1.0 {
		return TransformImageResult{}, apierr.New(apierr.CodeValidationFailed, "intensity must be between 0.1 and 1.0", nil)
	}

	primary, err := o.resolvePrimaryImage(p.SessionID, p.TargetImageUID, p.InlineImageData, p.InlineMimeType)
	if err != nil {
		return TransformImageResult{}, err
	}

	validRefs := make([]ReferenceImage, 0, len(p.ReferenceImages))
	for _, ref := range p.ReferenceImages {
		if len(ref.Data) < referenceMinBytes {
			o.log.Warn("dropping undersized reference image", "bytes", len(ref.Data))
			continue
		}
		validRefs = append(validRefs, ref)
	}
	if len(p.ReferenceImages) > 0 && len(validRefs) == 0 {
		o.log.Warn("every reference image was filtered out, falling back to single-image transform")
	}
	if len(validRefs) > maxReferenceImages {
		validRefs = validRefs[:maxReferenceImages]
	}

	totalBytes := int64(len(primary.Data))
	for _, ref := range validRefs {
		totalBytes += int64(len(ref.Data))
	}
	estimatedTokens := len(p.StylePrompt)/4 + (1+len(validRefs))*1500
	if totalBytes > o.cfg.ImageMaxBytes || estimatedTokens > o.cfg.ImageMaxTokensEst {
		return TransformImageResult{}, apierr.New(apierr.CodeImageSizeExceeded,
			fmt.Sprintf("request too large: %d bytes / ~%d estimated tokens", totalBytes, estimatedTokens), nil).
			WithSuggestion("Use fewer or smaller reference images.")
	}

	origW, origH, _ := decodeDimensions(primary.Data)

	images := make([][]byte, 0, 1+len(validRefs))
	images = append(images, primary.Data)
	for _, ref := range validRefs {
		images = append(images, ref.Data)
	}

	instructions := buildTransformInstructions(p.StylePrompt, intensity, len(validRefs), origW, origH)

	gen, err := o.provider.EditImage(ctx, instructions, images, nil)
	if err != nil {
		return TransformImageResult{}, asTransformErr(err, apierr.CodeTransformationFail, "image style transform")
	}

	imageUID, err := o.uids.Next(uidKindImage)
	if err != nil {
		return TransformImageResult{}, apierr.New(apierr.CodeUIDGenerationFailed, "allocate image uid", err)
	}
	filename := imageUID + "_" + time.Now().UTC().Format("20060102") + extForMime(gen.MimeType)
	dir := o.paths.StyledScreenshotsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = o.uids.Rollback(uidKindImage)
		return TransformImageResult{}, apierr.New(apierr.CodeStorageError, "create styled screenshots directory", err)
	}
	outPath := filepath.Join(dir, filename)
	if err := os.WriteFile(outPath, gen.Bytes, 0o644); err != nil {
		_ = o.uids.Rollback(uidKindImage)
		return TransformImageResult{}, apierr.New(apierr.CodeStorageError, "write transformed image", err)
	}
	procW, procH, _ := decodeDimensions(gen.Bytes)

	tokens := calculateImageTokens(procW, procH, 1.0)
	pricing := imagePricingQuote(tokens)

	labels := o.labelBestEffort(ctx, gen.Bytes, imageUID)

	source := "user_upload"
	if primary.ParentUID != "" {
		source = "screenshot"
	}
	if _, err := o.registry.Add(imageUID, registry.KindImage, filename, p.SessionID, primary.ParentUID, map[string]any{
		"file_path":       outPath,
		"mime_type":       gen.MimeType,
		"width":           procW,
		"height":          procH,
		"style_prompt":    p.StylePrompt,
		"reference_count": len(validRefs),
		"source":          source,
		"tokens":          tokens,
		"cost_usd":        pricing.TotalUSD,
	}); err != nil {
		_ = os.Remove(outPath)
		_ = o.uids.Rollback(uidKindImage)
		return TransformImageResult{}, err
	}

	return TransformImageResult{
		ImageUID:        imageUID,
		ParentUID:       primary.ParentUID,
		Filename:        filename,
		Path:            outPath,
		OriginalWidth:   origW,
		OriginalHeight:  origH,
		ProcessedWidth:  procW,
		ProcessedHeight: procH,
		StylePrompt:     p.StylePrompt,
		ReferenceCount:  len(validRefs),
		Pricing:         pricing,
		Labels:          labels,
	}, nil
}

// buildTransformInstructions composes the edit instructions sent to the
// provider: the style prompt, an intensity-derived strength clause, and
// (when known) an explicit dimension constraint so the output preserves
// the source image's aspect ratio.
func buildTransformInstructions(stylePrompt string, intensity float64, refCount, origW, origH int) string {
	level := "moderate"
	switch {
	case intensity < 0.4:
		level = "subtle"
	case intensity >= 0.7:
		level = "strong"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Transform the first image using the following instructions with a %s intensity:\n\n%s\n\nINSTRUCTIONS:\n", level, stylePrompt)
	b.WriteString("1. Apply the transformation described above\n")
	if refCount > 0 {
		b.WriteString("2. Use the additional reference images to guide the transformation\n")
	}
	b.WriteString("3. Maintain the original subject and composition while applying the changes\n")
	if origW > 0 && origH > 0 {
		fmt.Fprintf(&b, "4. Generate output with dimensions %dx%d pixels to match the source image's aspect ratio\n", origW, origH)
	}
	b.WriteString("\nGenerate the transformed image.")
	return b.String()
}

func extForMime(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func (o *Orchestrator) labelBestEffort(ctx context.Context, raw []byte, imageUID string) []gcp.VisionLabel {
	if o.vision == nil {
		return nil
	}
	labels, err := o.vision.LabelImage(ctx, raw, 5)
	if err != nil {
		o.log.Warn("vision labeling failed, continuing without labels", "image_uid", imageUID, "error", err)
		return nil
	}
	return labels
}

func asTransformErr(err error, code apierr.Code, context string) error {
	if apiErr, ok := err.(*apierr.Error); ok {
		return apiErr
	}
	return apierr.New(code, context+": "+err.Error(), err)
}
