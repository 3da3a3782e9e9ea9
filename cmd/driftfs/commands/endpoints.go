package commands

import (
	"context"
	"fmt"

	"github.com/driftfs/driftfs/pkg/backend"
	"github.com/driftfs/driftfs/pkg/backend/httpkv"
	"github.com/driftfs/driftfs/pkg/backend/s3"
	"github.com/driftfs/driftfs/pkg/config"
)

// buildEndpoints constructs the backend cluster endpoints from
// configuration. For httpkv every configured base URL becomes one
// round-robin member; S3 presents the whole cluster behind one
// endpoint.
func buildEndpoints(ctx context.Context, cfg *config.Config) ([]backend.Endpoint, error) {
	switch cfg.Backend.Type {
	case "httpkv":
		endpoints := make([]backend.Endpoint, 0, len(cfg.Backend.HTTPKV.Endpoints))
		for _, baseURL := range cfg.Backend.HTTPKV.Endpoints {
			client, err := httpkv.New(httpkv.Config{
				BaseURL: baseURL,
				Bucket:  cfg.Backend.HTTPKV.Bucket,
				Timeout: cfg.Backend.HTTPKV.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("endpoint %q: %w", baseURL, err)
			}
			endpoints = append(endpoints, client)
		}
		return endpoints, nil

	case "s3":
		ep, err := s3.New(ctx, s3.Config{
			Bucket:          cfg.Backend.S3.Bucket,
			Region:          cfg.Backend.S3.Region,
			Endpoint:        cfg.Backend.S3.Endpoint,
			AccessKeyID:     cfg.Backend.S3.AccessKeyID,
			SecretAccessKey: cfg.Backend.S3.SecretAccessKey,
			UsePathStyle:    cfg.Backend.S3.UsePathStyle,
			KeyPrefix:       cfg.Backend.S3.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 backend: %w", err)
		}
		return []backend.Endpoint{ep}, nil

	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Backend.Type)
	}
}
