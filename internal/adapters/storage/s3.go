package storage

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jobrunner/tessera/internal/ports/output"
)

// S3Config locates archives in a bucket. Endpoint selects an S3-compatible
// service and switches to path-style addressing. Without static keys the
// default AWS credential chain applies.
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Storage reads archives from an S3 bucket.
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ output.ObjectStorage = (*S3Storage)(nil)

// NewS3Storage resolves AWS configuration and builds the client.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	load := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		load = append(load, config.WithCredentialsProvider(static))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return nil, storageError("configure", cfg.Bucket, err)
	}

	var custom []func(*s3.Options)
	if cfg.Endpoint != "" {
		custom = append(custom, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Storage{
		client: s3.NewFromConfig(awsCfg, custom...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Storage) List(ctx context.Context) ([]output.StorageObject, error) {
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	var objects []output.StorageObject
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, storageError("list", s.bucket, err)
		}
		for _, obj := range page.Contents {
			if key := aws.ToString(obj.Key); IsArchive(key) {
				objects = append(objects, s3Object(key, s.prefix, obj))
			}
		}
	}
	return objects, nil
}

func s3Object(key, prefix string, obj types.Object) output.StorageObject {
	o := output.StorageObject{
		Key:  relativeKey(key, prefix),
		Size: aws.ToInt64(obj.Size),
		ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
	}
	if t := obj.LastModified; t != nil {
		o.LastModified = t.Unix()
	}
	return o
}

func (s *S3Storage) Download(ctx context.Context, key string, dest string) error {
	return fetch(ctx, s.GetReader, key, dest)
}

func (s *S3Storage) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err == nil {
		return out.Body, nil
	}

	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		err = notFound(err)
	}
	return nil, storageError("read", key, err)
}

// Exists issues a HEAD request; a missing object is not an error.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err == nil {
		return true, nil
	}
	var missing *types.NotFound
	if errors.As(err, &missing) {
		return false, nil
	}
	return false, storageError("stat", key, err)
}
