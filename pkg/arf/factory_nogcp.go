//go:build !gcp

package arf

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	return nil, fmt.Errorf("arf: GCS storage is not enabled in this build (use -tags gcp)")
}
