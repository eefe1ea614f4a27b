package document

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"repairflow/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DownloadURLTTL is how long a presigned invoice link stays valid.
const DownloadURLTTL = 15 * time.Minute

// ObjectStore holds invoice files.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, r io.Reader, size int64) error
	Delete(ctx context.Context, key string) error
	DownloadURL(ctx context.Context, key string) (string, error)
}

// MinIOStore implements ObjectStore on a single MinIO bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(cfg *config.Config) (*MinIOStore, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("document: MinIO is not configured")
	}

	client, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
		Secure: cfg.MinIOUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("document: create MinIO client: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.MinIOBucket}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("document: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("document: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *MinIOStore) Upload(ctx context.Context, key, contentType string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("document: upload %s: %w", key, err)
	}
	return nil
}

func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("document: delete %s: %w", key, err)
	}
	return nil
}

func (s *MinIOStore) DownloadURL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, DownloadURLTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("document: presign %s: %w", key, err)
	}
	return u.String(), nil
}
