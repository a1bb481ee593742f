package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"event-rsvp/internal/apperr"
	"event-rsvp/internal/config"
)

// Backend stores derivative files and returns their public URL.
// Writing the same key twice overwrites.
type Backend interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// NewBackend picks S3 in production and the local filesystem otherwise.
func NewBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	if !cfg.IsProduction() {
		return NewLocalBackend(cfg.MediaRoot, cfg.MediaURL), nil
	}
	return NewS3Backend(ctx, cfg)
}

// LocalBackend writes under a directory served at baseURL.
type LocalBackend struct {
	root    string
	baseURL string
}

// NewLocalBackend returns a LocalBackend.
func NewLocalBackend(root, baseURL string) *LocalBackend {
	return &LocalBackend{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Put writes data to root/key.
func (b *LocalBackend) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path := filepath.Join(b.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", key, err)
	}
	return b.baseURL + "/" + key, nil
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Backend uploads to a public bucket.
type S3Backend struct {
	client s3API
	bucket string
	region string
}

// NewS3Backend builds the client from the static credentials in cfg.
func NewS3Backend(ctx context.Context, cfg *config.Config) (*S3Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3Backend{client: s3.NewFromConfig(awsCfg), bucket: cfg.S3Bucket, region: cfg.S3Region}, nil
}

// Put uploads data. Client errors are Gateway errors so the job retries.
func (b *S3Backend) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(b.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindGateway, err, "We couldn't upload the image right now.")
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.bucket, b.region, key), nil
}
