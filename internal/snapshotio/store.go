package snapshotio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/lychee-technology/duplex"
	"go.uber.org/zap"
)

const s3Scheme = "s3://"

// Store moves encoded snapshots to and from durable storage.
type Store interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
}

// FileStore keeps snapshots on the local filesystem. Keys are paths relative
// to Dir, or absolute paths when Dir is empty.
type FileStore struct {
	Dir string
}

func (s FileStore) resolve(key string) string {
	if s.Dir == "" || filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(s.Dir, key)
}

func (s FileStore) Save(_ context.Context, key string, data []byte) error {
	p := s.resolve(key)
	if dir := filepath.Dir(p); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (s FileStore) Load(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, duplex.NewNotFoundError("snapshot", key)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// S3Store keeps snapshots as objects under Prefix in Bucket.
type S3Store struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	prefix     string
}

// NewS3Store builds an S3 client from cfg. Static credentials and a custom
// endpoint (path-style) are used when set, which is how S3-compatible
// servers are reached.
func NewS3Store(ctx context.Context, cfg duplex.SnapshotConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, duplex.NewValidationError("snapshot.s3Bucket", "bucket is required")
	}
	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.S3Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}
	if cfg.S3Endpoint != "" {
		loadOpts = append(loadOpts, config.WithBaseEndpoint(cfg.S3Endpoint))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3Endpoint != ""
	})
	return &S3Store{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     cfg.S3Bucket,
		prefix:     cfg.S3Prefix,
	}, nil
}

// WithBucket returns a copy of the store that targets bucket with no prefix.
func (s *S3Store) WithBucket(bucket string) *S3Store {
	c := *s
	c.bucket = bucket
	c.prefix = ""
	return &c
}

func (s *S3Store) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return fmt.Errorf("create bucket: %w", err)
	}
	zap.S().Infow("created snapshot bucket", "bucket", s.bucket)
	return nil
}

func (s *S3Store) Save(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(FormatForKey(key, FormatJSON).ContentType()),
	})
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	return nil
}

func (s *S3Store) Load(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer(nil)
	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchKey", "NotFound":
				return nil, duplex.NewNotFoundError("snapshot", key)
			}
		}
		return nil, fmt.Errorf("s3 download: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseLocation splits "s3://bucket/key" into its parts. ok is false for
// anything else, which is treated as a file path.
func ParseLocation(loc string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(loc, s3Scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(loc, s3Scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	return bucket, key, bucket != ""
}

// DefaultKey names a snapshot taken at ts.
func DefaultKey(ts time.Time, f Format) string {
	return "snapshot-" + ts.UTC().Format("20060102T150405Z") + f.Extension()
}

// Write encodes snap in the format implied by key and saves it.
func Write(ctx context.Context, store Store, key string, snap *duplex.Snapshot, fallback Format) error {
	data, err := Encode(snap, FormatForKey(key, fallback))
	if err != nil {
		return err
	}
	if err := store.Save(ctx, key, data); err != nil {
		return err
	}
	zap.S().Infow("snapshot saved", "key", key, "bytes", len(data), "records", snap.Metadata.TotalRecords)
	return nil
}

// Read loads and decodes the snapshot at key.
func Read(ctx context.Context, store Store, key string) (*duplex.Snapshot, error) {
	data, err := store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
