package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
)

// NewStorageClient creates the object-store client shared by discovery, the
// batch worker and the blob store.
func NewStorageClient(ctx context.Context) (*storage.Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return client, nil
}

// VerifyBucketRegion checks that the configured bucket exists and warns when it
// lives somewhere other than BUCKET_REGION.
func VerifyBucketRegion(ctx context.Context, client *storage.Client, cfg *Config) error {
	attrs, err := client.Bucket(cfg.BucketName).Attrs(ctx)
	if err != nil {
		return fmt.Errorf("failed to read attributes of bucket %s: %w", cfg.BucketName, err)
	}
	if !strings.EqualFold(attrs.Location, cfg.BucketRegion) {
		slog.Warn("Bucket location does not match BUCKET_REGION",
			"bucket", cfg.BucketName,
			"location", attrs.Location,
			"configured", cfg.BucketRegion,
		)
	}
	return nil
}
