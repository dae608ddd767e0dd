package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/cameronsjo/rigger/internal/pipeline"
)

// ObjectPutter is the part of the S3 client the bucket sink uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Bucket uploads reports to an S3 bucket under prefix/layer/.
type Bucket struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewBucket creates a bucket sink with credentials from the default AWS
// chain (environment, shared config, instance role). An empty region uses
// the configured default.
func NewBucket(ctx context.Context, bucket, prefix, region string) (*Bucket, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewBucketWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewBucketWithClient creates a bucket sink with a custom client.
// This is primarily used for testing.
func NewBucketWithClient(client ObjectPutter, bucket, prefix string) *Bucket {
	return &Bucket{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key of r.
func (b *Bucket) Key(r *pipeline.Report) string {
	return path.Join(b.prefix, r.Layer, Name(r))
}

// Store uploads r and returns its s3:// URL.
func (b *Bucket) Store(ctx context.Context, r *pipeline.Report) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, r); err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	key := b.Key(r)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/yaml"),
		Metadata: map[string]string{
			"run-id":  r.RunID,
			"outcome": string(r.Outcome),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload report to s3://%s/%s: %s", b.bucket, key, describe(err))
	}

	return "s3://" + b.bucket + "/" + key, nil
}

// describe prefers the service error code over the SDK's wrapped message.
func describe(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
	}
	return err.Error()
}
