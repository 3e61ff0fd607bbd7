package media

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// S3Config configures S3 media storage.
//
// Credentials follow the AWS SDK v2 default chain unless AccessKeyID and
// SecretAccessKey are both set. For S3-compatible stores set Endpoint and
// usually ForcePathStyle.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Prefix is prepended to every object key, e.g. "media/".
	Prefix string

	// Region is the AWS region. Defaults to us-east-1 for AWS when unset
	// in config, environment and profile.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile is the shared config profile to use.
	Profile string

	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	ForcePathStyle bool

	// PublicBaseURL, when set, is used to build asset URLs
	// (e.g. a CDN in front of the bucket).
	PublicBaseURL string
}

// S3ConfigError reports invalid S3 configuration.
type S3ConfigError struct {
	Field   string
	Message string
}

func (e *S3ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

// Validate checks that required configuration is present.
func (c *S3Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return &S3ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &S3ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// S3Storage stores assets in an S3 bucket.
type S3Storage struct {
	client  *s3.Client
	bucket  string
	prefix  string
	baseURL string
}

// NewS3Storage creates S3-backed storage.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &StorageError{Op: "New", Backend: "s3", Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Storage{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg S3Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}
	return awsCfg, nil
}

func (s *S3Storage) objectKey(key string) string {
	return s.prefix + strings.TrimLeft(key, "/")
}

func (s *S3Storage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return s.wrapError("PutObject", key, err)
	}
	return nil
}

func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, s.wrapError("GetObject", key, err)
	}
	return out.Body, nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return s.wrapError("DeleteObject", key, err)
	}
	return nil
}

func (s *S3Storage) URL(key string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + s.objectKey(key)
	}
	return "s3://" + s.bucket + "/" + s.objectKey(key)
}

// Ping checks that the bucket exists and is reachable.
func (s *S3Storage) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return s.wrapError("HeadBucket", "", err)
	}
	return nil
}

// wrapError converts S3 errors to storage errors with media sentinels.
func (s *S3Storage) wrapError(op, key string, err error) error {
	wrapped := &StorageError{Op: op, Backend: "s3", Key: key, Err: err}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		wrapped.Err = ErrMediaNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = ErrMediaNotFound
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = ErrStorageDenied
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = ErrStorageThrottled
		case "ServiceUnavailable", "InternalError", "NoSuchBucket":
			wrapped.Err = ErrStorageDown
		}
	}
	return wrapped
}
