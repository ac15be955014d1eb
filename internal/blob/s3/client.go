// Package s3blob archives trade batches to S3 or an S3-compatible store
// (MinIO, R2, iDrive e2) using AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ClientConfig describes the archive bucket and how to reach it.
type ClientConfig struct {
	Endpoint       string // empty for AWS; scheme optional, see UseSSL
	Region         string
	Bucket         string
	AccessKey      string // empty falls back to the default credential chain
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool // MinIO and most S3-compatible stores need this
}

// Client is an S3 client bound to the archive bucket.
type Client struct {
	s3     *s3.Client
	bucket string
	region string
}

// New builds a Client. It does not contact the store; call EnsureBucket or
// Health for that.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	switch {
	case cfg.Bucket == "":
		return nil, errors.New("s3blob: bucket name is required")
	case cfg.Region == "":
		return nil, errors.New("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	endpoint := ""
	if cfg.Endpoint != "" {
		endpoint = normaliseEndpoint(cfg.Endpoint, cfg.UseSSL)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{s3: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket creates the archive bucket when it does not exist yet, which
// is the usual state of a fresh local MinIO.
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(c.bucket)}
	// us-east-1 rejects an explicit location constraint.
	if c.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.region),
		}
	}
	if _, err := c.s3.CreateBucket(ctx, in); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("s3blob: create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Health reports whether the archive bucket is reachable.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// S3 returns the underlying SDK client.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the archive bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// normaliseEndpoint prepends http:// or https:// (per useSSL) to an endpoint
// given without a scheme.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	// "localhost:9000" parses with scheme "localhost", so require a host too.
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
