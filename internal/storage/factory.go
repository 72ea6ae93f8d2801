package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/timmy/leadsync/internal/config"
)

// NewStorage creates an ObjectStorage instance based on the configuration.
// Parameters:
//   - cfg: storage configuration including endpoint, credentials, and bucket.
//
// Returns:
//   - ObjectStorage: initialized storage client implementation.
//   - error: non-nil if the storage client cannot be created.
func NewStorage(cfg *config.StorageConfig) (ObjectStorage, error) {
	storageType := StorageType(strings.ToLower(cfg.Type))
	if storageType == "" {
		storageType = detectStorageType(cfg.Endpoint)
	}

	if storageType == StorageTypeMemory {
		return NewMemoryStorage(), nil
	}

	return NewS3Storage(&S3Config{
		Type:      storageType,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
	})
}

// NewArchive returns the raw payload archive for cfg.
// A disabled storage section yields a NoopArchive.
// Parameters:
//   - ctx: context for the bucket check.
//   - cfg: storage configuration.
//
// Returns:
//   - Archive: archive ready for use.
//   - error: non-nil if the storage backend cannot be reached.
func NewArchive(ctx context.Context, cfg *config.StorageConfig) (Archive, error) {
	if !cfg.Enabled {
		return NoopArchive{}, nil
	}

	store, err := NewStorage(cfg)
	if err != nil {
		return nil, err
	}
	if s3Store, ok := store.(*S3Storage); ok {
		if err := s3Store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare archive bucket: %w", err)
		}
	}
	return NewObjectArchive(store, cfg.Prefix), nil
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
