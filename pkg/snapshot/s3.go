package snapshot

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/umputun/newsrec/pkg/config"
)

// objectAPI is the part of the s3 client used by S3Store
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps a snapshot as a single object in an S3-compatible bucket
type S3Store struct {
	client objectAPI
	bucket string
	key    string
}

// NewS3Store makes a store for cfg.S3 using the default AWS credential chain
func NewS3Store(ctx context.Context, cfg config.SnapshotConfig) (*S3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.S3.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.S3.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3.PathStyle
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
	})
	return &S3Store{client: client, bucket: cfg.S3.Bucket, key: cfg.S3.Key}, nil
}

// Upload writes bundle to the configured object
func (s *S3Store) Upload(ctx context.Context, b Bundle) error {
	var buf bytes.Buffer
	if err := Write(&buf, b); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("put snapshot s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

// Download reads bundle from the configured object
func (s *S3Store) Download(ctx context.Context) (Bundle, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return Bundle{}, fmt.Errorf("get snapshot s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()
	return Read(out.Body)
}

// Location returns s3 url of the snapshot object
func (s *S3Store) Location() string {
	return "s3://" + s.bucket + "/" + s.key
}
