package objectstore

import (
	"errors"

	"github.com/ManuelReschke/FiscalFox/internal/pkg/env"
)

// Config holds the S3 compatible storage settings for certificate blobs.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services (MinIO, B2)
	CreateBucket    bool
}

// LoadConfig loads storage configuration from environment variables. There
// are no built-in credentials; missing values are reported as errors.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		CreateBucket:    env.GetEnvBool("S3_CREATE_BUCKET", false),
	}

	if cfg.AccessKeyID == "" {
		return nil, errors.New("S3_ACCESS_KEY_ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("S3_SECRET_ACCESS_KEY is required")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("S3_BUCKET_NAME is required")
	}

	return cfg, nil
}
