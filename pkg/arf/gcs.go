//go:build gcp

package arf

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
)

// GCSStore implements Store on Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string // Optional key prefix
}

// NewGCSStore creates a GCS-backed archive. Credentials come from ADC.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("arf: failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) objectKey(key Key) string {
	return s.prefix + key.Path()
}

func (s *GCSStore) Put(ctx context.Context, key Key, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(s.objectKey(key)).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("arf: gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("arf: gcs commit failed: %w", err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, key Key) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.objectKey(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, &ErrNotFound{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("arf: gcs get failed: %w", err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("arf: gcs read failed: %w", err)
	}
	return data, nil
}

func (s *GCSStore) Delete(ctx context.Context, key Key) error {
	err := s.client.Bucket(s.bucket).Object(s.objectKey(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("arf: gcs delete failed: %w", err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, orgID, syncID uuid.UUID) ([]Key, error) {
	prefix := fmt.Sprintf("%s%s/%s/", s.prefix, orgID, syncID)
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var out []Key
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("arf: gcs list failed: %w", err)
		}
		if len(attrs.Name) <= len(s.prefix) {
			continue
		}
		if key, ok := parsePath(attrs.Name[len(s.prefix):]); ok {
			out = append(out, key)
		}
	}
	return out, nil
}
