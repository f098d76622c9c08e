package snippet

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"

	"github.com/sells-group/finrecon/internal/config"
)

// Storage persists a rendered snippet and returns a URL for it.
type Storage interface {
	Put(ctx context.Context, key string, png []byte) (string, error)
}

// NewStorage builds the storage backend selected by cfg.Storage.
func NewStorage(ctx context.Context, cfg config.SnippetConfig) (Storage, error) {
	switch cfg.Storage {
	case "", "file":
		return NewFileStorage(cfg.Dir)
	case "minio":
		return NewMinioStorage(ctx, cfg.Minio)
	default:
		return nil, eris.Errorf("snippet: unknown storage %q", cfg.Storage)
	}
}

// FileStorage writes snippets under a local directory and returns file://
// URLs.
type FileStorage struct {
	dir string
}

// NewFileStorage creates dir if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "snippet: resolve %s", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrapf(err, "snippet: create %s", abs)
	}
	return &FileStorage{dir: abs}, nil
}

// Put implements Storage.
func (s *FileStorage) Put(_ context.Context, key string, png []byte) (string, error) {
	p := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", eris.Wrapf(err, "snippet: create dir for %s", key)
	}
	if err := os.WriteFile(p, png, 0o644); err != nil { //nolint:gosec
		return "", eris.Wrapf(err, "snippet: write %s", key)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(), nil
}

// MinioStorage uploads snippets to an S3-compatible bucket and returns
// presigned GET URLs.
type MinioStorage struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinioStorage connects to cfg.Endpoint and creates the bucket when it
// does not exist.
func NewMinioStorage(ctx context.Context, cfg config.MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "snippet: minio client")
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "snippet: check bucket %s", cfg.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, eris.Wrapf(err, "snippet: create bucket %s", cfg.Bucket)
		}
	}

	days := cfg.ExpireDays
	if days <= 0 || days > 7 {
		days = 7
	}
	return &MinioStorage{client: client, bucket: cfg.Bucket, expiry: time.Duration(days) * 24 * time.Hour}, nil
}

// Put implements Storage.
func (s *MinioStorage) Put(ctx context.Context, key string, png []byte) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(png), int64(len(png)),
		minio.PutObjectOptions{ContentType: "image/png"})
	if err != nil {
		return "", eris.Wrapf(err, "snippet: upload %s", key)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, nil)
	if err != nil {
		return "", eris.Wrapf(err, "snippet: presign %s", key)
	}
	return u.String(), nil
}
