package transform

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/scenehub/corehub/internal/config"
	"github.com/scenehub/corehub/internal/corehub/paths"
	"github.com/scenehub/corehub/internal/corehub/registry"
	"github.com/scenehub/corehub/internal/corehub/session"
	"github.com/scenehub/corehub/internal/corehub/uid"
	"github.com/scenehub/corehub/internal/platform/gcp"
	"github.com/scenehub/corehub/internal/platform/logger"
	"github.com/scenehub/corehub/internal/platform/openai"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 255), G: uint8(y % 255), B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// fakeProvider is a hand-written openai.Client fake: no HTTP involved since
// the interface is already narrow and mockable directly.
type fakeProvider struct {
	editOut  openai.ImageGeneration
	editErr  error
	videoOut openai.VideoGeneration
	videoErr error
}

func (f *fakeProvider) GenerateImage(ctx context.Context, prompt string) (openai.ImageGeneration, error) {
	return openai.ImageGeneration{}, nil
}

func (f *fakeProvider) EditImage(ctx context.Context, prompt string, images [][]byte, referencePrompts []string) (openai.ImageGeneration, error) {
	return f.editOut, f.editErr
}

func (f *fakeProvider) GenerateVideo(ctx context.Context, prompt string, opts openai.VideoGenerationOptions) (openai.VideoGeneration, error) {
	return f.videoOut, f.videoErr
}

type fakeVision struct {
	labels []gcp.VisionLabel
	err    error
}

func (f *fakeVision) LabelImage(ctx context.Context, raw []byte, maxLabels int) ([]gcp.VisionLabel, error) {
	return f.labels, f.err
}
func (f *fakeVision) Close() error { return nil }

type fakeVideoAI struct {
	result *gcp.VideoAIResult
	err    error
}

func (f *fakeVideoAI) AnnotateVideoGCS(ctx context.Context, gcsURI string, cfg gcp.VideoAIConfig) (*gcp.VideoAIResult, error) {
	return f.result, f.err
}
func (f *fakeVideoAI) Close() error { return nil }

type fakeUploader struct {
	uri string
	err error
}

func (f *fakeUploader) UploadObject(ctx context.Context, bucket, object string, raw []byte, contentType string) (string, error) {
	return f.uri, f.err
}

// testDeps bundles the Orchestrator's infrastructure dependencies built
// against a temp project root, independent of any particular test's
// provider/vision/video fakes.
type testDeps struct {
	log   *logger.Logger
	cfg   config.Config
	uids  *uid.Allocator
	reg   *registry.Registry
	paths *paths.Resolver
	sess  *session.Store
}

func newTestDeps(t *testing.T) testDeps {
	t.Helper()
	root := t.TempDir()
	log := testLogger(t)
	p, err := paths.New(log, root, true)
	if err != nil {
		t.Fatalf("paths.New: %v", err)
	}
	uids, err := uid.New(log, p.UIDStatePath())
	if err != nil {
		t.Fatalf("uid.New: %v", err)
	}
	reg, err := registry.Open(p.ResourceRegistryPath())
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	sess, err := session.New(log, session.Config{FallbackDir: p.SessionsStateDir()})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	cfg := config.Config{
		ImageMaxBytes:     18 * 1024 * 1024,
		ImageMaxTokensEst: 900000,
	}
	return testDeps{log: log, cfg: cfg, uids: uids, reg: reg, paths: p, sess: sess}
}

func newTestOrchestrator(t *testing.T, provider openai.Client, vision gcp.Vision, videoAI gcp.Video, uploader gcp.Uploader) (*Orchestrator, testDeps) {
	t.Helper()
	d := newTestDeps(t)
	o := New(d.log, d.cfg, d.uids, d.reg, d.paths, d.sess, provider, vision, videoAI, uploader)
	return o, d
}

func seedImage(t *testing.T, d testDeps, sessionID string, w, h int) string {
	t.Helper()
	uidStr, err := d.uids.Next(uidKindImage)
	if err != nil {
		t.Fatalf("uids.Next: %v", err)
	}
	path := filepath.Join(d.paths.ScreenshotsDir(), uidStr+".png")
	raw := pngBytes(t, w, h)
	if err := writeFile(t, path, raw); err != nil {
		t.Fatalf("write seed image: %v", err)
	}
	if _, err := d.reg.Add(uidStr, registry.KindImage, uidStr+".png", sessionID, "", map[string]any{
		"file_path": path,
		"mime_type": "image/png",
		"width":     w,
		"height":    h,
		"source":    "screenshot",
	}); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}
	return uidStr
}

func TestTransformImageByUIDChainsParentAndPricing(t *testing.T) {
	provider := &fakeProvider{editOut: openai.ImageGeneration{Bytes: pngBytes(t, 512, 512), MimeType: "image/png"}}
	o, d := newTestOrchestrator(t, provider, &fakeVision{labels: []gcp.VisionLabel{{Description: "cat", Score: 0.9}}}, nil, nil)

	srcUID := seedImage(t, d, "sess-1", 512, 512)

	result, err := o.TransformImage(context.Background(), TransformImageParams{
		SessionID:      "sess-1",
		TargetImageUID: srcUID,
		StylePrompt:    "make it look like a watercolor painting",
	})
	if err != nil {
		t.Fatalf("TransformImage: %v", err)
	}
	if result.ParentUID != srcUID {
		t.Fatalf("ParentUID = %q, want %q", result.ParentUID, srcUID)
	}
	if result.Pricing.TotalUSD <= 0 {
		t.Fatalf("expected positive pricing, got %+v", result.Pricing)
	}
	rec, err := d.reg.Get(result.ImageUID)
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}
	if rec.ParentUID != srcUID {
		t.Fatalf("registry parent_uid = %q, want %q", rec.ParentUID, srcUID)
	}
	if rec.Metadata["file_path"] == "" || rec.Metadata["file_path"] == nil {
		t.Fatal("expected file_path recorded in metadata")
	}
	if len(result.Labels) != 1 || result.Labels[0].Description != "cat" {
		t.Fatalf("expected vision labels attached, got %+v", result.Labels)
	}
}

func TestTransformImagePrefersUIDOverInline(t *testing.T) {
	provider := &fakeProvider{editOut: openai.ImageGeneration{Bytes: pngBytes(t, 256, 256), MimeType: "image/png"}}
	o, d := newTestOrchestrator(t, provider, nil, nil, nil)
	srcUID := seedImage(t, d, "sess-1", 256, 256)

	result, err := o.TransformImage(context.Background(), TransformImageParams{
		SessionID:       "sess-1",
		TargetImageUID:  srcUID,
		InlineImageData: pngBytes(t, 64, 64),
		StylePrompt:     "cyberpunk",
	})
	if err != nil {
		t.Fatalf("TransformImage: %v", err)
	}
	if result.ParentUID != srcUID {
		t.Fatalf("expected target_image_uid to win over inline data, got parent %q", result.ParentUID)
	}
}

func TestTransformImageFallsBackToSessionLatest(t *testing.T) {
	provider := &fakeProvider{editOut: openai.ImageGeneration{Bytes: pngBytes(t, 128, 128), MimeType: "image/png"}}
	o, d := newTestOrchestrator(t, provider, nil, nil, nil)
	_ = seedImage(t, d, "sess-1", 128, 128)
	latest := seedImage(t, d, "sess-1", 128, 128)

	result, err := o.TransformImage(context.Background(), TransformImageParams{
		SessionID:   "sess-1",
		StylePrompt: "oil painting",
	})
	if err != nil {
		t.Fatalf("TransformImage: %v", err)
	}
	if result.ParentUID != latest {
		t.Fatalf("ParentUID = %q, want latest %q", result.ParentUID, latest)
	}
}

func TestTransformImageRejectsMissingSource(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeProvider{}, nil, nil, nil)
	_, err := o.TransformImage(context.Background(), TransformImageParams{StylePrompt: "anything"})
	if err == nil {
		t.Fatal("expected error when no image source can be resolved")
	}
}

func TestTransformImageRejectsUIDKindMismatch(t *testing.T) {
	o, d := newTestOrchestrator(t, &fakeProvider{}, nil, nil, nil)
	videoUID, err := d.uids.Next(uidKindVideo)
	if err != nil {
		t.Fatalf("uids.Next: %v", err)
	}
	if _, err := d.reg.Add(videoUID, registry.KindVideo, videoUID+".mp4", "sess-1", "", map[string]any{"file_path": "/tmp/x.mp4"}); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}

	_, err = o.TransformImage(context.Background(), TransformImageParams{
		SessionID:      "sess-1",
		TargetImageUID: videoUID,
		StylePrompt:    "anything",
	})
	if err == nil {
		t.Fatal("expected error for uid-kind mismatch (video uid as image source)")
	}
}

func TestTransformImageDropsUndersizedReferencesAndFallsBack(t *testing.T) {
	provider := &fakeProvider{editOut: openai.ImageGeneration{Bytes: pngBytes(t, 200, 200), MimeType: "image/png"}}
	o, d := newTestOrchestrator(t, provider, nil, nil, nil)
	srcUID := seedImage(t, d, "sess-1", 200, 200)

	result, err := o.TransformImage(context.Background(), TransformImageParams{
		SessionID:      "sess-1",
		TargetImageUID: srcUID,
		StylePrompt:    "pixel art",
		ReferenceImages: []ReferenceImage{
			{Data: []byte("tiny"), MimeType: "image/png"},
		},
	})
	if err != nil {
		t.Fatalf("TransformImage: %v", err)
	}
	if result.ReferenceCount != 0 {
		t.Fatalf("expected undersized reference to be dropped, got ReferenceCount=%d", result.ReferenceCount)
	}
}

func TestTransformImageRejectsOversizedRequest(t *testing.T) {
	provider := &fakeProvider{editOut: openai.ImageGeneration{Bytes: pngBytes(t, 64, 64), MimeType: "image/png"}}
	o, d := newTestOrchestrator(t, provider, nil, nil, nil)
	d.cfg.ImageMaxBytes = 100
	o = New(d.log, d.cfg, d.uids, d.reg, d.paths, d.sess, provider, nil, nil, nil)
	srcUID := seedImage(t, d, "sess-1", 64, 64)

	_, err := o.TransformImage(context.Background(), TransformImageParams{
		SessionID:      "sess-1",
		TargetImageUID: srcUID,
		StylePrompt:    "anything",
	})
	if err == nil {
		t.Fatal("expected size-guard rejection")
	}
}

func TestGenerateVideoRequiresImageUID(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeProvider{}, nil, nil, nil)
	_, err := o.GenerateVideo(context.Background(), GenerateVideoParams{Prompt: "zoom out"})
	if err == nil {
		t.Fatal("expected error when image_uid is missing")
	}
}

func TestGenerateVideoRejectsUIDKindMismatch(t *testing.T) {
	provider := &fakeProvider{}
	o, d := newTestOrchestrator(t, provider, nil, nil, nil)
	objUID := "obj_1" // not registered as image; use a fresh registry add of a different kind
	if _, err := d.reg.Add(objUID, registry.KindObject3D, "a.obj", "sess-1", "", map[string]any{}); err != nil {
		t.Fatalf("registry.Add: %v", err)
	}

	_, err := o.GenerateVideo(context.Background(), GenerateVideoParams{
		SessionID: "sess-1",
		ImageUID:  objUID,
		Prompt:    "pan across the scene",
	})
	if err == nil {
		t.Fatal("expected error for uid-kind mismatch (object3d uid as video source image)")
	}
}

func TestGenerateVideoProducesRecordChainedToSourceImage(t *testing.T) {
	provider := &fakeProvider{videoOut: openai.VideoGeneration{Bytes: []byte("fake-mp4-bytes"), MimeType: "video/mp4"}}
	o, d := newTestOrchestrator(t, provider, nil, nil, nil)
	srcUID := seedImage(t, d, "sess-1", 1280, 720)

	result, err := o.GenerateVideo(context.Background(), GenerateVideoParams{
		SessionID: "sess-1",
		ImageUID:  srcUID,
		Prompt:    "the character waves",
	})
	if err != nil {
		t.Fatalf("GenerateVideo: %v", err)
	}
	if result.ParentUID != srcUID {
		t.Fatalf("ParentUID = %q, want %q", result.ParentUID, srcUID)
	}
	if result.Width != 1280 || result.Height != 720 {
		t.Fatalf("unexpected dimensions for default 16:9/720p: %dx%d", result.Width, result.Height)
	}
	wantPricing := videoPricingQuote(8)
	if result.Pricing.TotalUSD != wantPricing.TotalUSD {
		t.Fatalf("unexpected video pricing: got %+v want %+v", result.Pricing, wantPricing)
	}
	rec, err := d.reg.Get(result.VideoUID)
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}
	if rec.Kind != registry.KindVideo || rec.ParentUID != srcUID {
		t.Fatalf("unexpected video record: %+v", rec)
	}
}

func TestGenerateVideoResolutionDimensions(t *testing.T) {
	cases := []struct {
		aspect, res    string
		wantW, wantH int
	}{
		{"16:9", "720p", 1280, 720},
		{"9:16", "720p", 720, 1280},
		{"16:9", "1080p", 1920, 1080},
		{"9:16", "1080p", 1080, 1920},
	}
	for _, c := range cases {
		w, h := videoDimensions(c.aspect, c.res)
		if w != c.wantW || h != c.wantH {
			t.Fatalf("videoDimensions(%q, %q) = %d,%d want %d,%d", c.aspect, c.res, w, h, c.wantW, c.wantH)
		}
	}
}

func TestGenerateVideoAnnotatesBestEffortWhenConfigured(t *testing.T) {
	provider := &fakeProvider{videoOut: openai.VideoGeneration{Bytes: []byte("fake-mp4-bytes"), MimeType: "video/mp4"}}
	videoAI := &fakeVideoAI{result: &gcp.VideoAIResult{ShotSegments: nil}}
	uploader := &fakeUploader{uri: "gs://test-bucket/transform-videos/x.mp4"}
	d := newTestDeps(t)
	d.cfg.GCSBucket = "test-bucket"
	o := New(d.log, d.cfg, d.uids, d.reg, d.paths, d.sess, provider, nil, videoAI, uploader)
	srcUID := seedImage(t, d, "sess-1", 1280, 720)

	result, err := o.GenerateVideo(context.Background(), GenerateVideoParams{
		SessionID: "sess-1",
		ImageUID:  srcUID,
		Prompt:    "the character waves",
	})
	if err != nil {
		t.Fatalf("GenerateVideo: %v", err)
	}
	rec, err := d.reg.Get(result.VideoUID)
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}
	if rec.Metadata["gcs_uri"] != uploader.uri {
		t.Fatalf("expected gcs_uri recorded in metadata, got %+v", rec.Metadata)
	}
}

func writeFile(t *testing.T, path string, raw []byte) error {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
