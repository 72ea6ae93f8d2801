package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
)

// Archive keeps raw lead-source payloads next to the normalized rows.
type Archive interface {
	// Put stores payload under key.
	Put(ctx context.Context, key string, payload []byte) error

	// Get returns the payload stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// ArchiveKey returns the key of the raw payload a sync job fetched for one form.
func ArchiveKey(jobID uint, formID string) string {
	return fmt.Sprintf("jobs/%d/%s.json", jobID, formID)
}

// ObjectArchive writes JSON payloads to an ObjectStorage under a key prefix.
type ObjectArchive struct {
	store  ObjectStorage
	prefix string
}

// NewObjectArchive creates an archive on top of store.
// Parameters:
//   - store: object storage receiving the payloads.
//   - prefix: key prefix, e.g. "graph"; empty stores at the bucket root.
//
// Returns:
//   - *ObjectArchive: archive writing through store.
func NewObjectArchive(store ObjectStorage, prefix string) *ObjectArchive {
	return &ObjectArchive{store: store, prefix: prefix}
}

func (a *ObjectArchive) objectKey(key string) string {
	if a.prefix == "" {
		return key
	}
	return path.Join(a.prefix, key)
}

// Put uploads payload as application/json.
func (a *ObjectArchive) Put(ctx context.Context, key string, payload []byte) error {
	return a.store.Upload(ctx, a.objectKey(key), bytes.NewReader(payload), int64(len(payload)), "application/json")
}

// Get downloads the payload stored under key.
func (a *ObjectArchive) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := a.store.Download(ctx, a.objectKey(key))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archived object: %w", err)
	}
	return data, nil
}

// NoopArchive discards payloads. It is used when archiving is disabled.
type NoopArchive struct{}

// Put discards payload.
func (NoopArchive) Put(context.Context, string, []byte) error { return nil }

// Get always reports a missing object.
func (NoopArchive) Get(_ context.Context, key string) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
}

var (
	_ Archive = (*ObjectArchive)(nil)
	_ Archive = NoopArchive{}
)
