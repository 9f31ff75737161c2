package storage

import (
	"context"
	"fmt"
	"time"

	"storybook-server/shared/interfaces"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
)

var _ interfaces.ObjectStorage = (*GCSStorage)(nil)

const gcsPublicBaseURL = "https://storage.googleapis.com"

// GCSStorage загружает объекты в бакет Firebase Storage и делает их публично читаемыми.
type GCSStorage struct {
	bucket     *gcs.BucketHandle
	bucketName string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewGCSStorage принимает бакет, полученный из firebase app.Storage(ctx).Bucket(name).
func NewGCSStorage(bucket *gcs.BucketHandle, bucketName string, logger *zap.Logger) *GCSStorage {
	return &GCSStorage{
		bucket:     bucket,
		bucketName: bucketName,
		timeout:    2 * time.Minute,
		logger:     logger.Named("GCSStorage"),
	}
}

func (s *GCSStorage) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	obj := s.bucket.Object(path)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object '%s': %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object '%s': %w", path, err)
	}

	if err := obj.ACL().Set(ctx, gcs.AllUsers, gcs.RoleReader); err != nil {
		return "", fmt.Errorf("failed to make object '%s' public: %w", path, err)
	}

	publicURL := objectURL(gcsPublicBaseURL, s.bucketName, path)
	s.logger.Debug("Object uploaded", zap.String("path", path), zap.Int("bytes", len(data)))
	return publicURL, nil
}
