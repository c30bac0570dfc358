// Package snapshot stores fetched catalogues in S3 as zstd-compressed catalogue XML.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/klauspost/compress/zstd"
	"github.com/lychee-technology/orcall"
	"github.com/lychee-technology/orcall/internal"
	"go.uber.org/zap"
)

// Client is the part of the S3 API the store uses.
type Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Store is an internal.SnapshotStore backed by an S3 bucket.
type Store struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

var (
	_ internal.SnapshotStore = (*Store)(nil)
	_ orcall.HealthChecker   = (*Store)(nil)
)

// New builds a store from cfg, loading AWS credentials the usual way.
// Static credentials in AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY take precedence.
func New(ctx context.Context, cfg orcall.SnapshotConfig) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("snapshot bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, os.Getenv("AWS_SECRET_ACCESS_KEY"), os.Getenv("AWS_SESSION_TOKEN"))))
	}
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(cfg.Endpoint))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient builds a store over an existing client.
func NewWithClient(client Client, bucket, prefix string) *Store {
	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

// Key returns the object key holding the snapshot of image.
func (s *Store) Key(image string) string {
	name := strings.TrimSuffix(image, ".img") + ".xml.zst"
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *Store) Save(ctx context.Context, image string, cat *orcall.Catalogue) error {
	doc, err := internal.RenderCatalogueXML(cat)
	if err != nil {
		return fmt.Errorf("encode catalogue snapshot: %w", err)
	}
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return err
	}
	if _, err := enc.Write(doc); err != nil {
		enc.Close()
		return fmt.Errorf("compress catalogue snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("compress catalogue snapshot: %w", err)
	}

	key := s.Key(image)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/xml"),
		ContentEncoding: aws.String("zstd"),
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	zap.S().Debugw("catalogue snapshot saved", "bucket", s.bucket, "key", key, "bytes", buf.Len())
	return nil
}

// Load returns internal.ErrSnapshotNotFound when the bucket holds no snapshot for image.
func (s *Store) Load(ctx context.Context, image string) (*orcall.Catalogue, error) {
	key := s.Key(image)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, internal.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	dec, err := zstd.NewReader(out.Body)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", key, err)
	}
	defer dec.Close()
	doc, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot %s: %w", key, err)
	}

	cat, err := internal.ParseCatalogueXML(doc)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return cat, nil
}

// Ping checks the bucket exists and the credentials may read it.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket":
			return fmt.Errorf("snapshot bucket %s does not exist: %w", s.bucket, err)
		case "Forbidden", "AccessDenied":
			return fmt.Errorf("snapshot bucket %s reachable but access denied: %w", s.bucket, err)
		}
	}
	return fmt.Errorf("s3 head bucket %s: %w", s.bucket, err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
