//go:build !gcp

package export

import (
	"context"
	"fmt"
)

func newGCSSinkFromEnv(ctx context.Context) (Sink, error) {
	return nil, fmt.Errorf("GCS export is not enabled in this build (use -tags gcp)")
}
