// Package storage uploads voice messages to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/Gennadynemchin/AssistantBot/internal/config"
	"github.com/gabriel-vasile/mimetype"
)

// Object describes an uploaded object.
type Object struct {
	Bucket      string
	Key         string
	URI         string
	ContentType string
	Size        int64
}

// Uploader stores bytes under a key in the configured bucket.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) (Object, error)
	Bucket() string
	BaseURL() string
}

// VoiceKey returns <folder>/<fileUniqueID>.ogg, or just the file name when
// folder is empty.
func VoiceKey(folder, fileUniqueID string) string {
	name := fileUniqueID + ".ogg"
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}

// BaseURL is the public URL of an endpoint such as storage.yandexcloud.net.
func BaseURL(endpoint string, secure bool) string {
	if strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/")
	}
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return scheme + "://" + strings.TrimRight(endpoint, "/")
}

// ObjectURI is the path-style URL of bucket/key under baseURL.
func ObjectURI(baseURL, bucket, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + bucket + "/" + strings.TrimLeft(key, "/")
}

// DetectContentType sniffs data, falling back to audio/ogg for voice notes
// too short to identify.
func DetectContentType(data []byte) string {
	mt := mimetype.Detect(data)
	if mt.Is("application/octet-stream") {
		return "audio/ogg"
	}
	return mt.String()
}

// New builds the uploader selected by cfg.Mode.
func New(cfg config.StorageConfig, logger *slog.Logger) (Uploader, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMemoryUploader(cfg.Bucket), nil
	case "s3":
		return NewS3Uploader(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage mode %q", cfg.Mode)
	}
}

// MemoryUploader keeps objects in memory.
type MemoryUploader struct {
	bucket  string
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryUploader(bucket string) *MemoryUploader {
	if bucket == "" {
		bucket = "local"
	}
	return &MemoryUploader{bucket: bucket, objects: make(map[string][]byte)}
}

func (m *MemoryUploader) Upload(ctx context.Context, key string, data []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	m.mu.Lock()
	m.objects[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	return Object{
		Bucket:      m.bucket,
		Key:         key,
		URI:         ObjectURI(m.BaseURL(), m.bucket, key),
		ContentType: DetectContentType(data),
		Size:        int64(len(data)),
	}, nil
}

// Get returns a stored object.
func (m *MemoryUploader) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	return data, ok
}

func (m *MemoryUploader) Bucket() string { return m.bucket }

func (m *MemoryUploader) BaseURL() string { return "memory://" }
