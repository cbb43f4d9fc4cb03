package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"shardrun/internal/config"
)

// ObjectPutter is the subset of the S3 client used for uploads
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads collected artifact folders and the run output to a bucket
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Archiver creates an archiver from the s3 section of the config. Credentials come
// from the default AWS chain.
func NewS3Archiver(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is not configured")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3ArchiverWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// NewS3ArchiverWithClient creates an archiver around an existing client
func NewS3ArchiverWithClient(client ObjectPutter, bucket, prefix string, logger *zap.Logger) *S3Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Key returns the object key for a file below the run's prefix
func (a *S3Archiver) Key(runID, rel string) string {
	return path.Join(a.prefix, runID, filepath.ToSlash(rel))
}

// Upload walks every directory and uploads its regular files. Keys are relative to base
// so the local layout is kept. Returns the number of uploaded objects.
func (a *S3Archiver) Upload(ctx context.Context, runID, base string, dirs []string) (int, error) {
	uploaded := 0
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return err
			}
			if err := a.put(ctx, a.Key(runID, rel), p); err != nil {
				return err
			}
			uploaded++
			return nil
		})
		if err != nil {
			return uploaded, fmt.Errorf("failed to upload %s: %w", dir, err)
		}
	}
	a.logger.Info("uploaded artifacts",
		zap.String("bucket", a.bucket),
		zap.String("prefix", a.Key(runID, "")),
		zap.Int("objects", uploaded),
	)
	return uploaded, nil
}

// UploadFile uploads a single file under the run's prefix using its base name
func (a *S3Archiver) UploadFile(ctx context.Context, runID, file string) error {
	return a.put(ctx, a.Key(runID, filepath.Base(file)), file)
}

func (a *S3Archiver) put(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	a.logger.Debug("uploaded object", zap.String("key", key))
	return nil
}
