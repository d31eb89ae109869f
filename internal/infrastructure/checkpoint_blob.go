package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/yourusername/fetchq-go/internal/domain"
)

const checkpointPrefix = "resume_"

// BlobCheckpointBackend stores checkpoint records as objects in a gocloud bucket.
// file:// keeps them in a local directory, mem:// in memory.
type BlobCheckpointBackend struct {
	bucket *blob.Bucket
}

// NewBlobCheckpointBackend opens the bucket at bucketURL
func NewBlobCheckpointBackend(ctx context.Context, bucketURL string) (*BlobCheckpointBackend, error) {
	if strings.HasPrefix(bucketURL, "file://") && !strings.Contains(bucketURL, "?") {
		bucketURL += "?create_dir=true"
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint bucket: %w", err)
	}
	return &BlobCheckpointBackend{bucket: bucket}, nil
}

// NewBlobCheckpointBackendFromBucket wraps an already opened bucket
func NewBlobCheckpointBackendFromBucket(bucket *blob.Bucket) *BlobCheckpointBackend {
	return &BlobCheckpointBackend{bucket: bucket}
}

// Put writes a record, replacing an existing one
func (b *BlobCheckpointBackend) Put(ctx context.Context, key string, data []byte) error {
	if err := b.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Get reads a record
func (b *BlobCheckpointBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, domain.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes a record; a missing record is not an error
func (b *BlobCheckpointBackend) Delete(ctx context.Context, key string) error {
	if err := b.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys of all checkpoint records
func (b *BlobCheckpointBackend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := b.bucket.List(&blob.ListOptions{Prefix: checkpointPrefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list checkpoints: %w", err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// Close closes the bucket
func (b *BlobCheckpointBackend) Close() error {
	return b.bucket.Close()
}
