package api

import (
	"context"

	"s3pipe/internal/config"
	"s3pipe/internal/minio"
	"s3pipe/internal/s3"
)

// NewStore builds the collaborator selected by cfg.StorageBackend.
func NewStore(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	if cfg.StorageBackend == config.BackendMinio {
		return minio.NewClient(cfg.S3Endpoint, cfg.AWSAccessKey, cfg.AWSSecretKey, cfg.MinioUseSSL)
	}
	return s3.NewClient(ctx, cfg.S3Region, cfg.AWSAccessKey, cfg.AWSSecretKey, cfg.S3Endpoint)
}
