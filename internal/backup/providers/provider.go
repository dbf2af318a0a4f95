// Package providers stores backup files off the host.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/breeze-rmm/toolguard/internal/config"
)

// BackupProvider defines the interface for backup storage providers.
// Remote paths are slash-separated and relative to the provider root.
type BackupProvider interface {
	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, remotePath string) error
}

// New builds the provider selected by cfg. Cloud clients are created
// lazily on first use so a misconfigured offload never blocks remediation.
func New(cfg config.OffloadConfig) (BackupProvider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "local":
		return NewLocalProvider(cfg.Path), nil
	case "s3":
		return NewS3Provider(cfg.Bucket, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken), nil
	case "azure":
		return NewAzureProvider(cfg.Bucket, cfg.ConnectionString), nil
	case "gcs":
		return NewGCSProvider(cfg.Bucket, cfg.CredentialsFile), nil
	case "b2":
		return NewB2Provider(cfg.Bucket, cfg.AccountID, cfg.ApplicationKey), nil
	default:
		return nil, fmt.Errorf("unsupported backup provider %q", cfg.Provider)
	}
}
