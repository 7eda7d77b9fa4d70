package remoteconfig

import (
	"context"
	"fmt"

	"todo-go/internal/config"
)

// NewFetcherFromConfig creates a Fetcher based on the remote config type.
// An empty type returns nil: only cached values and defaults are served.
func NewFetcherFromConfig(ctx context.Context, cfg config.RemoteConfigConfig) (Fetcher, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "static":
		return StaticFetcher{Values: Values{EnableBulkActions: cfg.EnableBulkActions, Welcome: cfg.Welcome}}, nil
	case "s3":
		f, err := NewS3Fetcher(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Key:             cfg.S3Key,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown remote config type: %s", cfg.Type)
	}
}
