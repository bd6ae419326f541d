// Package artifact stores and retrieves artifact bytes in object
// storage, keyed by content hash. The pipeline never trusts file names;
// the SHA-256 is the only identity an artifact has.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds object storage connection settings.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store is a MinIO-backed artifact store.
type Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewStore connects to object storage and ensures the artifact bucket
// exists.
func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check artifact bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create artifact bucket: %w", err)
		}
	}

	logger.Info("Artifact store initialized",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("bucket", cfg.Bucket),
	)

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// Put uploads artifact bytes under their SHA-256 key. Re-uploading the
// same content overwrites with identical bytes, so the call is
// idempotent.
func (s *Store) Put(ctx context.Context, sha256 string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, sha256, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("failed to store artifact %s: %w", sha256, err)
	}

	s.logger.Debug("Artifact stored",
		slog.String("sha256", sha256),
		slog.Int("size", len(data)),
	)

	return nil
}

// Fetch downloads the artifact bytes for a SHA-256 key.
func (s *Store) Fetch(ctx context.Context, sha256 string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, sha256, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact %s: %w", sha256, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", sha256, err)
	}

	return data, nil
}
