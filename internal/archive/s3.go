// Package archive provides optional cold storage for version payloads.
package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/flowvault/flowvault/internal/platform/config"
	"github.com/flowvault/flowvault/internal/platform/logger"
	"github.com/flowvault/flowvault/internal/workflow/domain/model"
)

// Archiver mirrors version payloads to cold storage after they are appended.
// The database stays the source of truth; archival is write-behind and
// best-effort.
type Archiver interface {
	Archive(ctx context.Context, ownerID string, version *model.WorkflowVersion)
}

// S3Archiver writes each payload to s3://bucket/owner/workflow/version.json
type S3Archiver struct {
	client *s3.Client
	bucket string
	logger logger.Logger
}

// NewS3Archiver creates an archiver from the archive configuration. Returns a
// no-op archiver when archival is disabled.
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig, log logger.Logger) (Archiver, error) {
	if !cfg.Enabled {
		return &NopArchiver{}, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required when archival is enabled")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		logger: log,
	}, nil
}

// Archive uploads the payload. Failures are logged and swallowed; the version
// is already durably stored in the database.
func (a *S3Archiver) Archive(ctx context.Context, ownerID string, version *model.WorkflowVersion) {
	key := fmt.Sprintf("%s/%s/%d.json", ownerID, version.WorkflowID, version.Number)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(version.Payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		a.logger.Warn("failed to archive version payload",
			"bucket", a.bucket,
			"key", key,
			"error", err,
		)
		return
	}

	a.logger.Debug("version payload archived", "bucket", a.bucket, "key", key)
}

// NopArchiver discards everything. Used when archival is disabled.
type NopArchiver struct{}

func (a *NopArchiver) Archive(ctx context.Context, ownerID string, version *model.WorkflowVersion) {
}
