package gcp

import (
	"context"
	"fmt"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/scenehub/corehub/internal/platform/logger"
)

// Vision is a thin wrapper around the Cloud Vision label-detection API.
// It is used as a best-effort enrichment step after an image transform
// completes: generated images get a handful of content labels attached to
// their resource metadata so downstream UIs can show a quick description
// without re-deriving it from the prompt.
type Vision interface {
	LabelImage(ctx context.Context, raw []byte, maxLabels int) ([]VisionLabel, error)
	Close() error
}

type VisionLabel struct {
	Description string  `json:"description"`
	Score       float32 `json:"score"`
}

type visionService struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewVision(log *logger.Logger) (Vision, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Vision")

	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	c, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &visionService{log: slog, client: c}, nil
}

func (s *visionService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *visionService) LabelImage(ctx context.Context, raw []byte, maxLabels int) ([]VisionLabel, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if maxLabels <= 0 {
		maxLabels = 5
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	img := &visionpb.Image{Content: raw}
	req := &visionpb.AnnotateImageRequest{
		Image: img,
		Features: []*visionpb.Feature{
			{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: int32(maxLabels)},
		},
	}
	resp, err := s.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{req},
	})
	if err != nil {
		return nil, fmt.Errorf("annotate image: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, nil
	}
	r := resp.Responses[0]
	if r.Error != nil {
		return nil, fmt.Errorf("vision error: %s", r.Error.GetMessage())
	}
	out := make([]VisionLabel, 0, len(r.LabelAnnotations))
	for _, l := range r.LabelAnnotations {
		out = append(out, VisionLabel{Description: l.GetDescription(), Score: l.GetScore()})
	}
	return out, nil
}
