package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 implements Store against AWS S3 (and S3-compatible endpoints such as
// MinIO via a custom Endpoint + path-style addressing).
type S3 struct {
	client     *s3.Client
	bucket     string
	cfg        S3Config
	maxRetries int
}

// S3Config configures an S3 store.
type S3Config struct {
	Region       string
	Endpoint     string // custom endpoint, for MinIO/LocalStack
	UsePathStyle bool
	AccessKey    string // static credentials; falls back to the default chain when empty
	SecretKey    string
}

// NewS3 creates an S3-backed Store for bucket.
func NewS3(ctx context.Context, bucket string, cfg S3Config) (*S3, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &S3{
		client:     s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:     bucket,
		cfg:        cfg,
		maxRetries: 5,
	}, nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.retryWithBackoff(ctx, func() error {
		resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noSuchKey *types.NoSuchKey
			if errors.As(err, &noSuchKey) {
				return ErrNotFound
			}
			return err
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}

func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	return s.retryWithBackoff(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return err
	})
}

func (s *S3) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	err := s.retryWithBackoff(ctx, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
			IfNoneMatch: aws.String("*"),
		})
		if err != nil && isS3PreconditionFailed(err) {
			return ErrAlreadyExists
		}
		return err
	})
	return err
}

func (s *S3) PutIfMatch(ctx context.Context, key string, data []byte, etag string) (string, error) {
	var newETag string
	err := s.retryWithBackoff(ctx, func() error {
		input := &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		}
		if etag == "" {
			input.IfNoneMatch = aws.String("*")
		} else {
			input.IfMatch = aws.String(etag)
		}

		resp, err := s.client.PutObject(ctx, input)
		if err != nil {
			if isS3PreconditionFailed(err) {
				return ErrPrecondition
			}
			return err
		}
		newETag = aws.ToString(resp.ETag)
		return nil
	})
	return newETag, err
}

func (s *S3) Delete(ctx context.Context, key string) error {
	return s.retryWithBackoff(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3) Head(ctx context.Context, key string) (ObjectMetadata, error) {
	var meta ObjectMetadata
	err := s.retryWithBackoff(ctx, func() error {
		resp, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				return ErrNotFound
			}
			return err
		}
		meta = ObjectMetadata{
			Key:          key,
			Size:         aws.ToInt64(resp.ContentLength),
			ETag:         aws.ToString(resp.ETag),
			LastModified: aws.ToTime(resp.LastModified),
		}
		return nil
	})
	return meta, err
}

func (s *S3) List(ctx context.Context, prefix string) (Lister, error) {
	return &s3Lister{
		paginator: s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		}),
		ctx: ctx,
	}, nil
}

type s3Lister struct {
	paginator *s3.ListObjectsV2Paginator
	ctx       context.Context
	page      []types.Object
	pos       int
}

func (l *s3Lister) Next() (string, error) {
	for l.pos >= len(l.page) {
		if !l.paginator.HasMorePages() {
			return "", io.EOF
		}
		page, err := l.paginator.NextPage(l.ctx)
		if err != nil {
			return "", err
		}
		l.page = page.Contents
		l.pos = 0
	}
	key := aws.ToString(l.page[l.pos].Key)
	l.pos++
	return key, nil
}

func isS3PreconditionFailed(err error) bool {
	if err == nil {
		return false
	}
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

// retryWithBackoff applies a fixed exponential backoff policy: up to
// maxRetries+1 attempts (6 with the default 5 retries), 100ms -> 1.6s,
// auth and precondition errors are not retried.
func (s *S3) retryWithBackoff(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPrecondition) || errors.Is(lastErr, ErrAlreadyExists) || errors.Is(lastErr, ErrNotFound) {
			return lastErr
		}
		if isAuthError(lastErr) {
			return lastErr
		}

		if attempt < s.maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

func isAuthError(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return true
		}
	}
	return false
}
