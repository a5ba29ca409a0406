package s3archive

import (
	"time"

	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/env"
)

// Config holds S3 archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
	PresignTTL      time.Duration
}

// LoadConfig loads S3 configuration from the provider. Credentials and the
// bucket are only required when the archive is enabled.
func LoadConfig(p env.Provider) (*Config, error) {
	cfg := &Config{
		Region:      p.Optional("S3_REGION", "eu-central-1"),
		EndpointURL: p.Optional("S3_ENDPOINT_URL", ""),
		Enabled:     env.Bool(p, "S3_ARCHIVE_ENABLED", false),
		PresignTTL:  time.Duration(env.Int(p, "S3_PRESIGN_TTL_MINUTES", 60)) * time.Minute,
	}
	if !cfg.Enabled {
		return cfg, nil
	}

	var err error
	if cfg.AccessKeyID, err = p.Require("S3_ACCESS_KEY_ID"); err != nil {
		return nil, err
	}
	if cfg.SecretAccessKey, err = p.Require("S3_SECRET_ACCESS_KEY"); err != nil {
		return nil, err
	}
	if cfg.BucketName, err = p.Require("S3_BUCKET_NAME"); err != nil {
		return nil, err
	}
	if cfg.PresignTTL <= 0 {
		return nil, apperror.Validation("S3_PRESIGN_TTL_MINUTES", "must be positive")
	}
	return cfg, nil
}

// InvoiceKey is the object key of an invoice archive document.
func InvoiceKey(invoiceID string) string {
	return "invoices/" + invoiceID + ".json"
}

// ExportKey is the object key of a compliance export artifact.
func ExportKey(tenantID, requestID string) string {
	return "compliance/" + tenantID + "/" + requestID + ".json"
}
