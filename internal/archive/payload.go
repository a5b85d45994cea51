package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

// S3API is the subset of the S3 client used by PayloadArchiver.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PayloadArchiver keeps a copy of every verified webhook body in S3 for audit.
type PayloadArchiver struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewPayloadArchiver creates an archiver. If bucket is empty, Archive is a no-op.
func NewPayloadArchiver(s3Client S3API, bucket string, logger *logging.Logger) *PayloadArchiver {
	if logger == nil {
		logger = logging.Default()
	}
	return &PayloadArchiver{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled returns true if archival is configured (bucket is set).
func (a *PayloadArchiver) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// Key returns the object key for an event body.
func Key(tenantID, provider, eventID string) string {
	return fmt.Sprintf("webhooks/%s/%s/%s.json", tenantID, provider, eventID)
}

// Archive writes the raw body as received; the signature was computed over these bytes.
func (a *PayloadArchiver) Archive(ctx context.Context, tenantID, provider, eventID string, body []byte) error {
	if !a.Enabled() {
		return nil
	}
	key := Key(tenantID, provider, eventID)
	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"tenant-id":   tenantID,
			"provider":    provider,
			"received-at": a.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	a.logger.Debug("archived webhook payload", "s3_key", key, "bytes", len(body))
	return nil
}
