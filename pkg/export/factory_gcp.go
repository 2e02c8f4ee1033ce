//go:build gcp

package export

import (
	"context"
	"fmt"
	"os"
)

func newGCSSinkFromEnv(ctx context.Context) (Sink, error) {
	bucket := os.Getenv("EXPORT_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("EXPORT_GCS_BUCKET is required for GCS export")
	}

	cfg := GCSSinkConfig{
		Bucket: bucket,
		Prefix: os.Getenv("EXPORT_GCS_PREFIX"),
	}

	return NewGCSSink(ctx, cfg)
}
