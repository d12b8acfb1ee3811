package app

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/stratumlake/stratum/internal/config"
	"github.com/stratumlake/stratum/internal/objstore"
)

// openStore constructs the configured object store backend.
func openStore(ctx context.Context, cfg config.StoreConfig) (objstore.Store, error) {
	switch cfg.Type {
	case config.StoreLocal:
		return objstore.NewLocalFS(cfg.FSDir)
	case config.StoreS3:
		s3Cfg := objstore.S3Config{
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3URL,
			UsePathStyle: cfg.S3URL != "",
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
		}
		return objstore.NewS3(ctx, cfg.S3Bucket, s3Cfg)
	case config.StoreBlob:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain azure credential: %w", err)
		}
		return objstore.NewAzureBlob(cfg.AzrURL, cfg.AzrContainer, cred)
	case config.StoreGCS:
		return objstore.NewGCS(ctx, cfg.GCSBucket)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
