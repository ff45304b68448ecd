package backend

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds the configuration for the S3 backend.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
	KeyPrefix       string // Optional: object key prefix, defaults to "videos"
}

// S3Backend stores objects in an S3 bucket. It is optional and joins the
// fallback chain only when a bucket and region are configured.
type S3Backend struct {
	client *s3.Client
	bucket string
	region string
	prefix string
}

// NewS3Backend creates a new S3 backend.
func NewS3Backend(cfg S3Config) (*S3Backend, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "videos"
	}

	return &S3Backend{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: prefix,
	}, nil
}

// Name returns ProviderS3.
func (b *S3Backend) Name() Provider { return ProviderS3 }

// Put uploads the file at localPath to the bucket and returns the public URL.
func (b *S3Backend) Put(ctx context.Context, localPath, name string) (*PutResult, error) {
	f, err := os.Open(localPath) // #nosec G304 - path is produced by the pipeline
	if err != nil {
		return nil, fmt.Errorf("s3: open local file: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := path.Join(b.prefix, name)
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: put object: %w", err)
	}

	url := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.bucket, b.region, key)
	return &PutResult{
		URL:    url,
		Handle: S3Handle{Key: key},
	}, nil
}

// Delete removes a previously stored object by key.
func (b *S3Backend) Delete(ctx context.Context, h Handle) error {
	sh, ok := h.(S3Handle)
	if !ok {
		return ErrHandleMismatch
	}
	if !sh.Complete() {
		return ErrIncompleteHandle
	}

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(sh.Key),
	})
	if err != nil {
		return fmt.Errorf("s3: delete object: %w", err)
	}
	return nil
}
