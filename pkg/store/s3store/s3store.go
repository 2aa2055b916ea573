// Package s3store implements pkg/store.Store against an S3-compatible
// object store, for production deployments.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bitcertify/certify/pkg/store"
)

// S3Store stores each key as one object under Bucket, prefixed with
// key.Prefix+key.ID.
type S3Store struct {
	client *s3.Client
	bucket string
}

// Options configures an S3Store. Endpoint and AccessKey/SecretKey are
// optional; when empty, the default AWS credential chain and endpoint
// resolution apply (useful for real S3; MinIO-style endpoints set
// Endpoint explicitly).
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
}

// New builds an S3Store from opts.
func New(ctx context.Context, opts Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3store: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: opts.Bucket}, nil
}

// Put uploads data under key.
func (s *S3Store) Put(ctx context.Context, key store.Key, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key.String()),
		Body:   bytes.NewReader(data),
	})
	return err
}

// Get downloads the object stored under key.
func (s *S3Store) Get(ctx context.Context, key store.Key) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key.String()),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
