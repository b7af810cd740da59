// Package archive uploads audit exports to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/trustkeeper/internal/logging"
)

// ErrNotConfigured is returned when no bucket is set.
var ErrNotConfigured = errors.New("audit archive is not configured")

const (
	DefaultPrefix = "audit"
	contentType   = "application/x-ndjson"
	presignTTL    = 15 * time.Minute
)

// Settings describe the target bucket. Endpoint, AccessKey and SecretKey are
// optional; when empty the default AWS resolution chain is used.
type Settings struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

// Enabled reports whether a bucket is configured.
func (s Settings) Enabled() bool {
	return s.Bucket != ""
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignGetAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Indirections for tests.
var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Archiver stores NDJSON audit exports as
// <prefix>/<identity>/<yyyy>/<mm>/<dd>/<uuid>.ndjson.
type S3Archiver struct {
	bucket  string
	prefix  string
	put     putObjectAPI
	presign presignGetAPI
	logger  logging.Logger
	now     func() time.Time
}

// New builds an archiver from settings. It returns ErrNotConfigured when no
// bucket is set.
func New(ctx context.Context, s Settings, logger logging.Logger) (*S3Archiver, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}

	opts := []func(*config.LoadOptions) error{}
	if s.Region != "" {
		opts = append(opts, config.WithRegion(s.Region))
	}
	if s.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKey, s.SecretKey, "")))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	c := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
			// MinIO and most self-hosted stores only support path-style URLs.
			o.UsePathStyle = true
		}
	})

	return newArchiver(s, c, s3.NewPresignClient(c), logger), nil
}

func newArchiver(s Settings, put putObjectAPI, presign presignGetAPI, logger logging.Logger) *S3Archiver {
	prefix := strings.Trim(s.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &S3Archiver{
		bucket:  s.Bucket,
		prefix:  prefix,
		put:     put,
		presign: presign,
		logger:  logging.OrNop(logger).With("component", "archive"),
		now:     time.Now,
	}
}

// Key builds the object key for an export taken at t.
func (a *S3Archiver) Key(identity string, t time.Time, id uuid.UUID) string {
	t = t.UTC()
	return path.Join(
		a.prefix,
		sanitize(identity),
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		id.String()+".ndjson",
	)
}

// Upload stores body and returns the object key.
func (a *S3Archiver) Upload(ctx context.Context, identity string, body []byte) (string, error) {
	if identity == "" {
		return "", errors.New("archive: identity is required")
	}

	key := a.Key(identity, a.now(), uuid.New())
	_, err := a.put.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}

	a.logger.Info(ctx, "audit export archived", "bucket", a.bucket, "key", key, "bytes", len(body))
	return key, nil
}

// DownloadURL returns a short-lived presigned GET URL for key.
func (a *S3Archiver) DownloadURL(ctx context.Context, key string) (string, error) {
	req, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		return "", fmt.Errorf("archive: presign %s: %w", key, err)
	}
	return req.URL, nil
}

// sanitize keeps identity usable as a single key segment.
func sanitize(identity string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "..", "_")
	return r.Replace(strings.ToLower(strings.TrimSpace(identity)))
}
