//go:build gcp

package arf

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ARF_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("arf: ARF_GCS_BUCKET is required for GCS storage")
	}

	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("ARF_GCS_PREFIX"),
	})
}
