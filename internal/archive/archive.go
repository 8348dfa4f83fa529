// Package archive keeps a zstd-compressed copy of every new upstream
// payload in S3, keyed by checkpoint and fetch time, so past forecasts can be
// re-extracted later.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
)

// S3Client abstracts the S3 operations the archive needs for testability.
// Production code uses the *s3.Client from aws-sdk-go-v2.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// PayloadArchive stores raw timeseries payloads in one bucket.
type PayloadArchive struct {
	s3     S3Client
	bucket string
	logger *slog.Logger

	// Each pooled encoder is used by one goroutine at a time.
	encoderPool sync.Pool
}

// NewPayloadArchive creates a PayloadArchive writing to bucket.
func NewPayloadArchive(client S3Client, bucket string, logger *slog.Logger) *PayloadArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &PayloadArchive{
		s3:     client,
		bucket: bucket,
		logger: logger,
		encoderPool: sync.Pool{
			New: func() any {
				e, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
				}
				return e
			},
		},
	}
}

// Key returns the object key for a checkpoint payload fetched at fetchedAt.
//
//	yr/{checkpoint_id}/{yyyy}/{mm}/{dd}/{yyyymmddThhmmssZ}.json.zst
func Key(checkpointID string, fetchedAt time.Time) string {
	t := fetchedAt.UTC()
	return fmt.Sprintf("yr/%s/%s/%s.json.zst",
		checkpointID, t.Format("2006/01/02"), t.Format("20060102T150405Z"))
}

// Archive compresses and uploads the payload.
func (a *PayloadArchive) Archive(ctx context.Context, checkpointID string, fetchedAt time.Time, payload []byte) error {
	key := Key(checkpointID, fetchedAt)
	compressed := a.compress(payload)

	_, err := a.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(compressed),
		ContentLength:   aws.Int64(int64(len(compressed))),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
		Metadata: map[string]string{
			"checkpoint-id": checkpointID,
			"fetched-at":    fetchedAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("archive: failed to put %s: %w", key, err)
	}

	a.logger.DebugContext(ctx, "payload archived",
		"bucket", a.bucket,
		"key", key,
		"raw_bytes", len(payload),
		"stored_bytes", len(compressed),
	)
	return nil
}

func (a *PayloadArchive) compress(data []byte) []byte {
	encoder := a.encoderPool.Get().(*zstd.Encoder)
	defer a.encoderPool.Put(encoder)
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/4))
}
