package gcp

import (
	"bytes"
	"context"
	"fmt"

	"google.golang.org/api/storage/v1"

	"github.com/scenehub/corehub/internal/platform/logger"
)

// Uploader is the narrow GCS surface the video transform worker needs to
// hand a generated video off to Cloud Video Intelligence, which only
// annotates objects already at rest in Cloud Storage.
type Uploader interface {
	// UploadObject writes raw to bucket/object and returns its gs:// URI.
	UploadObject(ctx context.Context, bucket, object string, raw []byte, contentType string) (string, error)
}

type gcsUploader struct {
	log *logger.Logger
	svc *storage.Service
}

// NewUploader builds an Uploader backed by the GCS JSON API.
func NewUploader(log *logger.Logger) (Uploader, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	ctx := context.Background()
	svc, err := storage.NewService(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &gcsUploader{log: log.With("service", "gcp.Uploader"), svc: svc}, nil
}

func (u *gcsUploader) UploadObject(ctx context.Context, bucket, object string, raw []byte, contentType string) (string, error) {
	if bucket == "" {
		return "", fmt.Errorf("bucket is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	obj := &storage.Object{Name: object, Bucket: bucket, ContentType: contentType}
	_, err := u.svc.Objects.Insert(bucket, obj).Media(bytes.NewReader(raw)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", bucket, object, err)
	}
	return fmt.Sprintf("gs://%s/%s", bucket, object), nil
}
