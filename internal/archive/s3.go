package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// Sink receives encoded archive batches before the corresponding rows are
// deleted from the live stores. A failed Put must leave the batch intact so
// the sweep can abort without data loss.
type Sink interface {
	Put(ctx context.Context, key string, body []byte) error
}

const (
	putTimeout = 5 * time.Second
	maxBackoff = 2 * time.Second
)

// S3Sink uploads archive batches to an S3 bucket. Retries with exponential
// backoff are handled here; the SDK's own retries are disabled so every
// attempt is ours to observe.
type S3Sink struct {
	client  *s3.Client
	bucket  string
	retries int
	logger  *zap.Logger
}

// NewS3Sink loads the default AWS config for the given region and returns a
// sink for the bucket.
func NewS3Sink(ctx context.Context, region, bucket string, retries int, logger *zap.Logger) (*S3Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("NewS3Sink: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 0
	})

	if retries < 1 {
		retries = 3
	}
	return &S3Sink{client: client, bucket: bucket, retries: retries, logger: logger}, nil
}

// Put uploads body under key, retrying transient failures. The body reader
// is rebuilt per attempt.
func (s *S3Sink) Put(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= s.retries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.putObject(ctx, key, body); err == nil {
			return nil
		} else {
			lastErr = err
			s.logger.Warn("archive upload failed",
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}

	return fmt.Errorf("Put %s: %w", key, lastErr)
}

func (s *S3Sink) putObject(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, putTimeout)
	defer cancel()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	return err
}
