package storage

import (
	"bytes"
	"context"
	"fmt"

	"storybook-server/shared/interfaces"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var _ interfaces.ObjectStorage = (*MinIOStorage)(nil)

// MinIOConfig - параметры S3-совместимого хранилища.
type MinIOConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	Region        string
	PublicBaseURL string // пустое значение - URL эндпоинта
}

// MinIOStorage загружает объекты в MinIO.
type MinIOStorage struct {
	client  *minio.Client
	bucket  string
	baseURL string
	logger  *zap.Logger
}

func NewMinIOStorage(cfg MinIOConfig, logger *zap.Logger) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	base := cfg.PublicBaseURL
	if base == "" {
		base = client.EndpointURL().String()
	}
	return &MinIOStorage{client: client, bucket: cfg.Bucket, baseURL: base, logger: logger.Named("MinIOStorage")}, nil
}

// EnsureBucket создает бакет, если его нет, и открывает объекты на чтение всем.
func (s *MinIOStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.logger.Info("Bucket created", zap.String("bucket", s.bucket))
	}
	policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, s.bucket)
	if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
		return fmt.Errorf("failed to set public-read policy: %w", err)
	}
	return nil
}

func (s *MinIOStorage) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to minio: %w", err)
	}
	s.logger.Debug("Object uploaded", zap.String("path", path), zap.Int("bytes", len(data)))
	return objectURL(s.baseURL, s.bucket, path), nil
}
