// Package modelcache maintains the local on-disk cache of model artifacts.
// Each model identifier owns one subdirectory with a manifest written exactly
// once during the pre-download step; the cache is read-only while serving.
package modelcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const manifestName = "manifest.json"

type Cache struct {
	dir    string
	logger *zap.Logger
}

// Manifest records where an artifact came from. It is written after a
// successful fetch and its presence marks the model as cached.
type Manifest struct {
	Model     string    `json:"model"`
	Source    string    `json:"source"`
	SizeBytes int64     `json:"size_bytes"`
	FetchedAt time.Time `json:"fetched_at"`
}

// S3Source identifies a bucket holding model bundles, one object per model id.
type S3Source struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

func New(dir string, logger *zap.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating model cache dir %s: %w", dir, err)
	}
	return &Cache{dir: dir, logger: logger}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

// Has reports whether the model's manifest exists.
func (c *Cache) Has(model string) bool {
	_, err := os.Stat(filepath.Join(c.modelDir(model), manifestName))
	return err == nil
}

// Manifest loads the manifest for a cached model.
func (c *Cache) Manifest(model string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(c.modelDir(model), manifestName))
	if err != nil {
		return nil, fmt.Errorf("reading manifest for %q: %w", model, err)
	}
	var m Manifest
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest for %q: %w", model, err)
	}
	return &m, nil
}

// Ensure fetches the model bundle from the S3 source unless it is already
// cached. The download is atomic: a temp file is renamed into place before
// the manifest is written, so a crashed fetch never looks cached.
func (c *Cache) Ensure(ctx context.Context, src S3Source, model string) error {
	if c.Has(model) {
		c.logger.Info("model artifact cached", zap.String("model", model))
		return nil
	}

	client, err := minio.New(src.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(src.AccessKey, src.SecretKey, ""),
		Secure: src.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("creating S3 client for endpoint %s: %w", src.Endpoint, err)
	}

	dir := c.modelDir(model)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	objectKey := model + ".bundle"
	destPath := filepath.Join(dir, "model.bundle")
	tempPath := destPath + ".part"

	c.logger.Info("fetching model artifact",
		zap.String("model", model),
		zap.String("bucket", src.Bucket),
		zap.String("object", objectKey),
	)

	if err := client.FGetObject(ctx, src.Bucket, objectKey, tempPath, minio.GetObjectOptions{}); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("downloading object %s from bucket %s: %w", objectKey, src.Bucket, err)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("moving artifact into place: %w", err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return fmt.Errorf("stat downloaded artifact: %w", err)
	}

	return c.writeManifest(model, Manifest{
		Model:     model,
		Source:    fmt.Sprintf("s3://%s/%s", src.Bucket, objectKey),
		SizeBytes: info.Size(),
		FetchedAt: time.Now().UTC(),
	})
}

func (c *Cache) writeManifest(model string, m Manifest) error {
	data, err := sonic.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest for %q: %w", model, err)
	}
	dir := c.modelDir(model)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, manifestName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest for %q: %w", model, err)
	}
	return nil
}

func (c *Cache) modelDir(model string) string {
	return filepath.Join(c.dir, sanitize(model))
}

// sanitize flattens a model id like "cross-encoder/ms-marco-MiniLM-L6-v2"
// into a single path element.
func sanitize(model string) string {
	r := strings.NewReplacer("/", "--", ":", "--", "\\", "--")
	return r.Replace(model)
}
