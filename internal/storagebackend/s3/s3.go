// Package s3 is the S3-compatible object-store variant of the Storage
// Abstraction, backed by an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mediafetch/internal/domain"
	"mediafetch/internal/domain/ports"
	"mediafetch/internal/metrics"
)

func observe(op string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.StorageOperationDuration.WithLabelValues(op, outcome).Observe(time.Since(started).Seconds())
}

// Config holds the connection parameters for an S3-compatible backend.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for S3-compatible (MinIO, R2, ...) endpoints
	AccessKeyID     string
	SecretAccessKey string
}

// Storage implements ports.Storage against an S3-compatible bucket.
type Storage struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

func New(ctx context.Context, cfg Config) (*Storage, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)
	return &Storage{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
	}, nil
}

func (s *Storage) Put(ctx context.Context, key string, body io.Reader, contentType string) (result ports.PutResult, err error) {
	started := time.Now()
	defer func() { observe("put", started, err) }()

	buf, readErr := io.ReadAll(body)
	if readErr != nil {
		return ports.PutResult{}, domain.Wrap(domain.ErrStorageUnavailable, "read body", readErr)
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, putErr := s.client.PutObject(ctx, input); putErr != nil {
		return ports.PutResult{}, domain.Wrap(domain.ErrStorageUnavailable, "put object", putErr)
	}
	return ports.PutResult{SizeBytes: int64(len(buf))}, nil
}

func (s *Storage) Get(ctx context.Context, key string) (rc io.ReadCloser, err error) {
	started := time.Now()
	defer func() { observe("get", started, err) }()

	out, getErr := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if getErr != nil {
		if isNotFound(getErr) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Wrap(domain.ErrStorageUnavailable, "get object", getErr)
	}
	return out.Body, nil
}

func (s *Storage) Delete(ctx context.Context, key string) (deleted bool, err error) {
	started := time.Now()
	defer func() { observe("delete", started, err) }()

	existed, existsErr := s.Exists(ctx, key)
	if existsErr != nil {
		return false, existsErr
	}
	if _, delErr := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); delErr != nil {
		return false, domain.Wrap(domain.ErrStorageUnavailable, "delete object", delErr)
	}
	return existed, nil
}

func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, domain.Wrap(domain.ErrStorageUnavailable, "head object", err)
	}
	return true, nil
}

func (s *Storage) URLFor(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", domain.Wrap(domain.ErrStorageUnavailable, "presign url", err)
	}
	return req.URL, nil
}

func (s *Storage) Probe(ctx context.Context) ports.HealthStatus {
	key := fmt.Sprintf("_probe/%d", time.Now().UnixNano())
	if _, err := s.Put(ctx, key, bytes.NewReader([]byte("probe")), "text/plain"); err != nil {
		return ports.HealthUnhealthy
	}
	rc, err := s.Get(ctx, key)
	if err != nil {
		return ports.HealthUnhealthy
	}
	_ = rc.Close()
	if _, err := s.Delete(ctx, key); err != nil {
		return ports.HealthUnhealthy
	}
	return ports.HealthHealthy
}

func isNotFound(err error) bool {
	var nf interface{ ErrorCode() string }
	if errors.As(err, &nf) {
		code := nf.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
