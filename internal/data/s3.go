package data

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/astracloud/astra-extras/internal/location"
)

// s3Copier moves files between the local filesystem and an S3-compatible
// object store. Credentials come from the standard AWS environment and
// shared credentials file; AWS_ENDPOINT_URL selects non-AWS endpoints.
type s3Copier struct {
	src    location.Location
	dst    location.Location
	client *minio.Client
	logger *slog.Logger
}

func newS3Copier(src, dst location.Location, logger *slog.Logger) (Copier, error) {
	endpoint := os.Getenv("AWS_ENDPOINT_URL")
	secure := true
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	} else {
		endpoint = strings.TrimPrefix(endpoint, "https://")
		if rest, ok := strings.CutPrefix(endpoint, "http://"); ok {
			endpoint = rest
			secure = false
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		}),
		Secure: secure,
		Region: os.Getenv("AWS_REGION"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	return &s3Copier{src: src, dst: dst, client: client, logger: logger}, nil
}

func (c *s3Copier) Copy(ctx context.Context) (string, error) {
	if c.src.Kind == location.S3 {
		return c.download(ctx)
	}
	return c.upload(ctx)
}

func (c *s3Copier) download(ctx context.Context) (string, error) {
	bucket, key, err := splitObjectURI(c.src.Path)
	if err != nil {
		return "", err
	}
	dest := c.dst.Path

	// A key with a trailing slash (or empty key) addresses a prefix.
	if key == "" || strings.HasSuffix(c.src.Path, "/") {
		prefix := strings.TrimSuffix(key, "/")
		count := 0
		for obj := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}) {
			if obj.Err != nil {
				return "", fmt.Errorf("listing s3://%s/%s: %w", bucket, prefix, obj.Err)
			}
			rel := strings.TrimPrefix(strings.TrimPrefix(obj.Key, prefix), "/")
			target := filepath.Join(dest, filepath.FromSlash(rel))
			if err := c.client.FGetObject(ctx, bucket, obj.Key, target, minio.GetObjectOptions{}); err != nil {
				return "", fmt.Errorf("fetching s3://%s/%s: %w", bucket, obj.Key, err)
			}
			count++
		}
		c.logger.Info("downloaded s3 prefix", "bucket", bucket, "prefix", prefix, "objects", count, "destination", dest)
		return dest, nil
	}

	if di, err := os.Stat(dest); err == nil && di.IsDir() {
		dest = filepath.Join(dest, path.Base(key))
	}
	if err := c.client.FGetObject(ctx, bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		return "", fmt.Errorf("fetching s3://%s/%s: %w", bucket, key, err)
	}
	c.logger.Info("downloaded s3 object", "bucket", bucket, "key", key, "destination", dest)
	return dest, nil
}

func (c *s3Copier) upload(ctx context.Context) (string, error) {
	bucket, key, err := splitObjectURI(c.dst.Path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(c.src.Path)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}

	if info.IsDir() {
		prefix := strings.TrimSuffix(key, "/")
		count := 0
		err := filepath.WalkDir(c.src.Path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(c.src.Path, p)
			if err != nil {
				return err
			}
			objectKey := path.Join(prefix, filepath.ToSlash(rel))
			if _, err := c.client.FPutObject(ctx, bucket, objectKey, p, minio.PutObjectOptions{}); err != nil {
				return fmt.Errorf("uploading %s: %w", p, err)
			}
			count++
			return nil
		})
		if err != nil {
			return "", err
		}
		c.logger.Info("uploaded directory to s3", "bucket", bucket, "prefix", prefix, "objects", count)
		return c.dst.Path, nil
	}

	if key == "" || strings.HasSuffix(key, "/") {
		key = path.Join(key, filepath.Base(c.src.Path))
	}
	if _, err := c.client.FPutObject(ctx, bucket, key, c.src.Path, minio.PutObjectOptions{}); err != nil {
		return "", fmt.Errorf("uploading %s: %w", c.src.Path, err)
	}
	c.logger.Info("uploaded s3 object", "bucket", bucket, "key", key,
		"size", info.Size())
	return c.dst.Path, nil
}

// splitObjectURI splits s3://bucket/key/path into bucket and key.
func splitObjectURI(raw string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(raw, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URI: %q", raw)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", raw)
	}
	return bucket, key, nil
}
