package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore persists objects in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// MinioStore implements Store.
var _ Store = (*MinioStore)(nil)

// MinioConfig holds connection settings for an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioStore connects to the endpoint and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("storage: missing endpoint")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage: missing bucket")
	}

	client, errNew := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if errNew != nil {
		return nil, fmt.Errorf("storage: connect %s: %w", cfg.Endpoint, errNew)
	}

	exists, errExists := client.BucketExists(ctx, cfg.Bucket)
	if errExists != nil {
		return nil, fmt.Errorf("storage: check bucket %s: %w", cfg.Bucket, errExists)
	}
	if !exists {
		if errMake := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); errMake != nil {
			return nil, fmt.Errorf("storage: create bucket %s: %w", cfg.Bucket, errMake)
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Put writes data under key.
func (s *MinioStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, errPut := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if errPut != nil {
		return fmt.Errorf("storage: put %s: %w", key, errPut)
	}
	return nil
}

// Get reads the object stored under key.
func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, errGet := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if errGet != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, errGet)
	}
	defer func() { _ = obj.Close() }()

	data, errRead := io.ReadAll(obj)
	if errRead != nil {
		var resp minio.ErrorResponse
		if errors.As(errRead, &resp) && resp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: read %s: %w", key, errRead)
	}
	return data, nil
}

// PresignGet returns a time-limited download URL for key.
func (s *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, errPresign := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if errPresign != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, errPresign)
	}
	return u.String(), nil
}
