package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Gennadynemchin/AssistantBot/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Uploader writes objects through the S3 API.
type S3Uploader struct {
	client  *minio.Client
	bucket  string
	baseURL string
	logger  *slog.Logger
}

func NewS3Uploader(cfg config.StorageConfig, logger *slog.Logger) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: BaseURL(cfg.Endpoint, cfg.Secure),
		logger:  logger.With(slog.String("component", "storage")),
	}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte) (Object, error) {
	contentType := DetectContentType(data)
	info, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Object{}, fmt.Errorf("upload %s/%s: %w", u.bucket, key, err)
	}
	u.logger.Debug("object uploaded", slog.String("key", key), slog.Int64("size", info.Size), slog.String("content_type", contentType))
	return Object{
		Bucket:      u.bucket,
		Key:         key,
		URI:         ObjectURI(u.baseURL, u.bucket, key),
		ContentType: contentType,
		Size:        info.Size,
	}, nil
}

func (u *S3Uploader) Bucket() string { return u.bucket }

func (u *S3Uploader) BaseURL() string { return u.baseURL }
