package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	s3ConnectTimeout  = 30 * time.Second
	s3TransferTimeout = 10 * time.Minute
)

// S3Config holds the settings for an S3-compatible storage backend.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
}

// S3Store stores blobs in an S3-compatible object store (AWS, MinIO,
// or any endpoint speaking the S3 API).
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an S3 storage backend from the given configuration.
func NewS3Store(conf S3Config) (*S3Store, error) {
	if conf.AccessKeyID == "" || conf.SecretAccessKey == "" || conf.Bucket == "" {
		return nil, fmt.Errorf("missing required S3 configuration: access key, secret, and bucket are required")
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		conf.AccessKeyID,
		conf.SecretAccessKey,
		"",
	))

	opts := s3.Options{
		Region:           conf.Region,
		Credentials:      creds,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
		UsePathStyle:     conf.UsePathStyle,
	}
	if conf.Endpoint != "" {
		opts.BaseEndpoint = aws.String(conf.Endpoint)
	}

	return &S3Store{
		client: s3.New(opts),
		bucket: conf.Bucket,
	}, nil
}

// EnsureReady verifies the configured bucket is reachable.
func (s *S3Store) EnsureReady() error {
	ctx, cancel := context.WithTimeout(context.Background(), s3ConnectTimeout)
	defer cancel()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("unable to access bucket %s: %w", s.bucket, err)
	}
	return nil
}

// s3Writer buffers blob bytes and uploads them as one object on Close.
// Upload sizes are bounded by the service's upload limit, so buffering
// stays within that bound.
type s3Writer struct {
	store *S3Store
	key   string
	buf   bytes.Buffer
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s3TransferTimeout)
	defer cancel()

	_, err := w.store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.store.bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob to S3: %w", err)
	}
	return nil
}

// Create opens a writer for a new blob under the given key.
func (s *S3Store) Create(key string) (io.WriteCloser, error) {
	return &s3Writer{store: s, key: key}, nil
}

// s3Reader keeps the GetObject request context alive for the lifetime of
// the body. Cancelling it before the body is drained kills the stream.
type s3Reader struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *s3Reader) Close() error {
	err := r.ReadCloser.Close()
	r.cancel()
	return err
}

// Open returns a reader over a stored blob. The reader stays valid until
// closed or until the transfer timeout elapses.
func (s *S3Store) Open(key string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s3TransferTimeout)

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cancel()
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("blob not found for key %s", key)
		}
		return nil, fmt.Errorf("failed to get blob from S3: %w", err)
	}
	return &s3Reader{ReadCloser: result.Body, cancel: cancel}, nil
}

// Delete removes a stored blob. A missing key is not an error: S3 delete
// is idempotent by contract.
func (s *S3Store) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s3ConnectTimeout)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob from S3: %w", err)
	}
	return nil
}

// Exists reports whether a blob is present under the given key.
func (s *S3Store) Exists(key string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s3ConnectTimeout)
	defer cancel()

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head blob: %w", err)
	}
	return true, nil
}
