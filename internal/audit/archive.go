package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/lanebird/inbox-ai-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by Archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive writes dead letters to S3 as durable JSON blobs. The row store
// holds the operator-facing copy with a TTL; the archive keeps the
// long-term record for postmortems.
type Archive struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewArchive creates an Archive. If bucket is empty, all operations are no-ops.
func NewArchive(s3Client S3API, bucket string, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Default()
	}
	return &Archive{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// ArchiveDeadLetter writes one dead letter as JSON, keyed by date and id.
func (a *Archive) ArchiveDeadLetter(ctx context.Context, letter DeadLetter) error {
	if !a.Enabled() {
		return nil
	}

	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("audit: marshal dead letter: %w", err)
	}

	now := letter.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	key := fmt.Sprintf("dead-letters/v1/%d/%02d/%02d/%s.json",
		now.Year(), now.Month(), now.Day(), letter.ID)

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("audit: s3 put %s: %w", key, err)
	}

	a.logger.Info("archived dead letter",
		"dead_letter_id", letter.ID,
		"workspace_id", letter.WorkspaceID,
		"s3_key", key,
	)
	return nil
}
