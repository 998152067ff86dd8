package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joseph-ayodele/recetas-tracker/constants"
)

type MinIOConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string        // when empty, PublicURL presigns
	PresignTTL    time.Duration // default 1h
}

type MinIOStore struct {
	client *minio.Client
	cfg    MinIOConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewMinIOStore connects and creates the bucket if it doesn't exist.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig, logger *slog.Logger) (*MinIOStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "recetas"
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("created object store bucket", "bucket", cfg.Bucket)
	}
	return &MinIOStore{client: client, cfg: cfg, logger: logger, now: time.Now}, nil
}

func (m *MinIOStore) Put(ctx context.Context, data []byte, name string, ownerID uuid.UUID) (Object, error) {
	key := ObjectKey(ownerID, name, m.now())
	_, err := m.client.PutObject(ctx, m.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: constants.PDFMimeType,
	})
	if err != nil {
		m.logger.Error("object upload failed", "key", key, "error", err)
		return Object{}, fmt.Errorf("failed to upload to MinIO: %w", err)
	}
	url, err := m.PublicURL(ctx, key)
	if err != nil {
		return Object{}, err
	}
	m.logger.Info("object stored", "key", key, "bytes", len(data))
	return Object{Key: key, URL: url}, nil
}

func (m *MinIOStore) PublicURL(ctx context.Context, key string) (string, error) {
	if m.cfg.PublicBaseURL != "" {
		return joinURL(m.cfg.PublicBaseURL, m.cfg.Bucket, key), nil
	}
	u, err := m.client.PresignedGetObject(ctx, m.cfg.Bucket, key, m.cfg.PresignTTL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return u.String(), nil
}
