// Package mirror copies finished job artifacts to S3-compatible object
// storage and hands back presigned URLs for them.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	defaultPrefix = "jobs"
	defaultExpiry = 72 * time.Hour
)

// Config describes the object store connection.
type Config struct {
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Bucket    string        `yaml:"bucket"`
	Prefix    string        `yaml:"prefix"`
	UseSSL    bool          `yaml:"use_ssl"`
	URLExpiry time.Duration `yaml:"url_expiry"`
}

// Enabled reports whether enough is configured to mirror artifacts.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.Bucket) != ""
}

// MinIO publishes artifacts to a bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	prefix string
	expiry time.Duration

	mu          sync.Mutex
	bucketReady bool
}

// NewMinIO connects to the configured endpoint. The bucket is created on
// first use when missing.
func NewMinIO(cfg Config) (*MinIO, error) {
	if !cfg.Enabled() {
		return nil, errors.New("mirror: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: connect: %w", err)
	}

	m := &MinIO{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		expiry: cfg.URLExpiry,
	}
	if m.prefix == "" {
		m.prefix = defaultPrefix
	}
	if m.expiry <= 0 {
		m.expiry = defaultExpiry
	}
	return m, nil
}

// Publish uploads localPath under the job's folder and returns a presigned
// GET URL for it.
func (m *MinIO) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	if err := m.ensureBucket(ctx); err != nil {
		return "", err
	}

	key := m.objectKey(jobID, filepath.Base(localPath))
	_, err := m.client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return "", fmt.Errorf("mirror: upload %s: %w", key, err)
	}

	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, m.expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("mirror: presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Remove deletes every object stored for the job.
func (m *MinIO) Remove(ctx context.Context, jobID string) error {
	folder := m.objectKey(jobID, "") + "/"
	var errs []error
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: folder, Recursive: true}) {
		if obj.Err != nil {
			errs = append(errs, obj.Err)
			continue
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", obj.Key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("mirror: %w", err)
	}
	return nil
}

func (m *MinIO) ensureBucket(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bucketReady {
		return nil
	}

	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("mirror: check bucket: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("mirror: create bucket: %w", err)
		}
	}
	m.bucketReady = true
	return nil
}

func (m *MinIO) objectKey(jobID, name string) string {
	if name == "" {
		return path.Join(m.prefix, jobID)
	}
	return path.Join(m.prefix, jobID, name)
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
