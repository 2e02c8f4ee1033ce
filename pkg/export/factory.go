package export

import (
	"context"
	"fmt"
	"os"
)

// SinkType selects the bundle storage backend.
type SinkType string

const (
	SinkTypeFS  SinkType = "fs"
	SinkTypeS3  SinkType = "s3"
	SinkTypeGCS SinkType = "gcs"
)

// NewSinkFromEnv creates a bundle sink based on environment variables.
//
// Environment variables:
//   - EXPORT_SINK_TYPE: "fs" (default), "s3", or "gcs"
//   - EXPORT_DIR: Base directory for the filesystem sink (default: "data/exports")
//
// For S3:
//   - AWS_REGION or EXPORT_S3_REGION
//   - EXPORT_S3_BUCKET (required)
//   - EXPORT_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - EXPORT_S3_PREFIX (optional)
//
// For GCS:
//   - EXPORT_GCS_BUCKET (required)
//   - EXPORT_GCS_PREFIX (optional)
func NewSinkFromEnv(ctx context.Context) (Sink, error) {
	sinkType := SinkType(os.Getenv("EXPORT_SINK_TYPE"))
	if sinkType == "" {
		sinkType = SinkTypeFS
	}

	switch sinkType {
	case SinkTypeFS:
		return newFileSinkFromEnv()
	case SinkTypeS3:
		return newS3SinkFromEnv(ctx)
	case SinkTypeGCS:
		return newGCSSinkFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported export sink type: %s", sinkType)
	}
}

func newFileSinkFromEnv() (Sink, error) {
	dir := os.Getenv("EXPORT_DIR")
	if dir == "" {
		dir = "data/exports"
	}
	return NewFileSink(dir)
}

func newS3SinkFromEnv(ctx context.Context) (Sink, error) {
	bucket := os.Getenv("EXPORT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("EXPORT_S3_BUCKET is required for S3 export")
	}

	region := os.Getenv("EXPORT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	cfg := S3SinkConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("EXPORT_S3_ENDPOINT"),
		Prefix:   os.Getenv("EXPORT_S3_PREFIX"),
	}

	return NewS3Sink(ctx, cfg)
}
