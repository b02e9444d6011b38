// Package offsite replicates finished artifacts and their manifests to
// S3-compatible storage. The local backup directory stays the source of
// truth; offsite copies are a second line of defense and upload failures
// degrade the backup result instead of failing it.
package offsite

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"github.com/calder-ops/tradevault/internal/config"
)

// Replicator uploads backup files to a bucket.
type Replicator struct {
	client *minio.Client
	bucket string
	prefix string
}

// New builds a replicator from config, or returns nil when offsite
// replication is disabled.
func New(cfg config.OffsiteConfig) (*Replicator, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("offsite endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
		BucketLookup: func() minio.BucketLookupType {
			if cfg.ForcePathStyle {
				return minio.BucketLookupPath
			}
			return minio.BucketLookupDNS
		}(),
	})
	if err != nil {
		return nil, err
	}
	return &Replicator{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Upload copies one local file to the bucket under its base name.
func (r *Replicator) Upload(ctx context.Context, localPath string) error {
	key := path.Join(r.prefix, filepath.Base(localPath))
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = r.client.PutObject(ctx, r.bucket, key, f, info.Size(), minio.PutObjectOptions{
		UserMetadata: map[string]string{"tvault-backup": "true"},
	})
	if err != nil {
		return fmt.Errorf("offsite upload %s: %w", key, err)
	}
	return nil
}

// UploadAll uploads the artifact and its sidecars concurrently. Missing
// paths are skipped; the first upload error cancels the rest so the caller
// reports one coherent warning.
func (r *Replicator) UploadAll(ctx context.Context, paths ...string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		g.Go(func() error { return r.Upload(ctx, p) })
	}
	return g.Wait()
}
