package imaging

import (
	"bytes"
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"google.golang.org/api/option"
)

// ObjectStore uploads image bytes under a key in a single bucket.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Bucket() string
}

// MinIOStore writes to any S3-compatible endpoint.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinIOStore connects to the endpoint and creates the bucket if missing.
func NewMinIOStore(ctx context.Context, opts MinIOOptions) (*MinIOStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}
	return &MinIOStore{client: client, bucket: opts.Bucket}, nil
}

func (s *MinIOStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *MinIOStore) Bucket() string {
	return s.bucket
}

// GCSStore writes to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore uses credentialsFile when set, otherwise application default
// credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "public, max-age=31536000, immutable"

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write GCS object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close GCS writer for %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Bucket() string {
	return s.bucket
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
