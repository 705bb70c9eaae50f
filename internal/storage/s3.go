package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"trade-ledger/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// Object folders
const (
	FolderProducts    = "products"
	FolderDeposits    = "deposits"
	FolderTradeProofs = "trade_proofs"
	FolderResumes     = "resumes"
)

// Config describes an S3-compatible bucket (AWS S3 or Cloudflare R2)
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
}

// ObjectAPI is the subset of the S3 client the store calls
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store uploads and deletes ledger attachments
type S3Store struct {
	api       ObjectAPI
	bucket    string
	publicURL string
	logger    *zap.Logger
}

// NewS3Store creates a store backed by a static-credential S3 client
func NewS3Store(cfg Config) (*S3Store, error) {
	if cfg.Bucket == "" || cfg.PublicURL == "" {
		return nil, errors.New("storage bucket and public URL are required")
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithAPI(client, cfg.Bucket, cfg.PublicURL), nil
}

// NewWithAPI wraps an existing S3 API implementation
func NewWithAPI(api ObjectAPI, bucket, publicURL string) *S3Store {
	return &S3Store{
		api:       api,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    util.GetLogger(),
	}
}

// URL returns the public URL an object under key is served from
func (s *S3Store) URL(key string) string {
	return s.publicURL + "/" + key
}

// KeyFromURL recovers the object key from a URL built by URL
func (s *S3Store) KeyFromURL(publicURL string) (string, error) {
	prefix := s.publicURL + "/"
	if !strings.HasPrefix(publicURL, prefix) {
		return "", fmt.Errorf("not an object URL under %s: %q", s.publicURL, publicURL)
	}
	key := strings.TrimPrefix(publicURL, prefix)
	if key == "" {
		return "", fmt.Errorf("object URL has no key: %q", publicURL)
	}
	return key, nil
}

// ObjectKey builds folder/name + the extension of the original file name
func ObjectKey(folder, name, originalFilename string) string {
	return folder + "/" + name + strings.ToLower(path.Ext(originalFilename))
}

// Store uploads body under key and returns its public URL
func (s *S3Store) Store(ctx context.Context, body []byte, key, contentType string) (string, error) {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	s.logger.Info("Uploaded object", zap.String("key", key), zap.Int("bytes", len(body)))
	return s.URL(key), nil
}

// Delete removes the object behind publicURL. A missing object is not an error.
func (s *S3Store) Delete(ctx context.Context, publicURL string) error {
	key, err := s.KeyFromURL(publicURL)
	if err != nil {
		return err
	}

	_, err = s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		s.logger.Warn("Object already gone", zap.String("key", key))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	s.logger.Info("Deleted object", zap.String("key", key))
	return nil
}
