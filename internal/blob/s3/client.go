// Package s3blob reads the raw hourly archives from the exchange's public
// S3 bucket. The bucket is requester-pays, so every request carries the
// requester payer header and the caller's credentials are billed for
// transfer.
package s3blob

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ClientConfig holds the connection settings for the raw data bucket.
type ClientConfig struct {
	// Region is the bucket's AWS region.
	Region string

	// Bucket is the raw data bucket name.
	Bucket string

	// AccessKey and SecretKey authenticate the requester. When both are
	// empty the SDK's default credential chain is used instead.
	AccessKey string
	SecretKey string

	// RequesterPays marks every request as requester-pays. Required for
	// the public archive buckets.
	RequesterPays bool

	// MaxRetries caps SDK-level retry attempts per request.
	MaxRetries int
}

// Client wraps the AWS S3 SDK client together with the bucket name and the
// requester-pays flag shared by all request types in this package.
type Client struct {
	s3            *s3.Client
	bucket        string
	requesterPays bool
}

// New creates a client for the configured bucket.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxRetries))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	return &Client{
		s3:            s3.NewFromConfig(awsCfg),
		bucket:        cfg.Bucket,
		requesterPays: cfg.RequesterPays,
	}, nil
}

// Health verifies connectivity and permissions with a single-key listing.
// HeadBucket is avoided because it cannot carry the requester-pays header.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:       aws.String(c.bucket),
		MaxKeys:      aws.Int32(1),
		RequestPayer: c.payer(),
	})
	if err != nil {
		return fmt.Errorf("s3blob: health check failed for bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Close is a no-op. The underlying HTTP client needs no teardown.
func (c *Client) Close() error {
	return nil
}

// S3 returns the underlying SDK client.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

func (c *Client) payer() types.RequestPayer {
	if c.requesterPays {
		return types.RequestPayerRequester
	}
	return ""
}
