package storage

import (
	"github.com/rmcgill/file-backup-utility/internal/config"
	"github.com/rmcgill/file-backup-utility/internal/errs"
)

func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocal(cfg.Local.Path), nil
	case "s3":
		if cfg.S3.Endpoint == "" || cfg.S3.Bucket == "" {
			return nil, errs.Config("s3 endpoint and bucket are required")
		}
		if cfg.S3.AccessKey == "" || cfg.S3.SecretKey == "" {
			return nil, errs.Config("s3 access_key and secret_key are required")
		}
		return NewS3(cfg.S3.Endpoint, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.SessionToken, cfg.S3.UseSSL, cfg.S3.ForcePathStyle, cfg.S3.TLSInsecureSkip)
	default:
		return nil, errs.Config("unsupported storage backend: %s", cfg.Backend)
	}
}
