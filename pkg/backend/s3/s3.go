// Package s3 implements the backend.Endpoint contract over Amazon S3
// or any S3-compatible object store.
//
// S3 has no client-supplied version marker: VersionMarker surfaces the
// object's ETag so causal information is still available to callers,
// and Write ignores the marker on the way in (last write wins, which is
// safe for content-addressed keys). Critical writes have no S3
// equivalent; durability is the store's replication policy.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/driftfs/driftfs/pkg/backend"
)

// Config holds the settings for an S3 endpoint.
type Config struct {
	// Bucket is the S3 bucket all keys are written to.
	Bucket string

	// Region is the AWS region. Defaults to "us-east-1" for
	// S3-compatible stores that ignore it.
	Region string

	// Endpoint overrides the AWS endpoint for S3-compatible stores
	// (MinIO, Localstack). Empty means real AWS.
	Endpoint string

	// AccessKeyID and SecretAccessKey select static credentials. When
	// both are empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible stores.
	UsePathStyle bool

	// KeyPrefix is prepended to every object key.
	KeyPrefix string
}

// Endpoint is a backend.Endpoint backed by one S3 bucket.
type Endpoint struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	label     string
}

// New creates an S3 endpoint from configuration.
func New(ctx context.Context, cfg Config) (*Endpoint, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket must not be empty")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	label := cfg.Endpoint
	if label == "" {
		label = "s3://" + cfg.Bucket
	}

	return &Endpoint{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		label:     label,
	}, nil
}

// NewWithClient wraps an existing S3 client. Used by tests and callers
// that manage client construction themselves.
func NewWithClient(client *s3.Client, bucket, keyPrefix string) *Endpoint {
	return &Endpoint{
		client:    client,
		bucket:    bucket,
		keyPrefix: keyPrefix,
		label:     "s3://" + bucket,
	}
}

// URL identifies the endpoint.
func (e *Endpoint) URL() string { return e.label }

func (e *Endpoint) objectKey(key string) string {
	return e.keyPrefix + key
}

// VersionMarker reports the object's ETag. Absence of the key is not an
// error.
func (e *Endpoint) VersionMarker(ctx context.Context, key string) (string, bool, error) {
	out, err := e.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("s3: head %q: %w", key, err)
	}
	return aws.ToString(out.ETag), true, nil
}

// Write stores the object with a single PutObject call.
func (e *Endpoint) Write(ctx context.Context, key string, body io.Reader, size int64, _ backend.WriteOptions) error {
	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.bucket),
		Key:           aws.String(e.objectKey(key)),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("s3: put %q: %w", key, err)
	}
	return nil
}

// isNotFound reports whether the error indicates a missing object.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}
	return strings.Contains(err.Error(), "StatusCode: 404")
}

var _ backend.Endpoint = (*Endpoint)(nil)
