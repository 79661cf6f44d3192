package fetcher

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
)

// S3API is the part of the S3 client the fetcher uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher reads s3://bucket/key locations.
type S3Fetcher struct {
	client S3API
}

// NewS3Fetcher loads the default AWS credential chain for region.
func NewS3Fetcher(ctx context.Context, region string) (*S3Fetcher, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, eris.Wrap(err, "s3: load aws config")
	}
	return &S3Fetcher{client: s3.NewFromConfig(cfg)}, nil
}

// NewS3FetcherWithClient wraps an existing client.
func NewS3FetcherWithClient(client S3API) *S3Fetcher {
	return &S3Fetcher{client: client}
}

// parseS3URL splits s3://bucket/key into bucket and key.
func parseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "parse s3 url")
	}
	if u.Scheme != SchemeS3 {
		return "", "", eris.Errorf("expected s3 scheme, got %q", u.Scheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", eris.Errorf("s3 url %q needs a bucket and a key", rawURL)
	}
	return u.Host, key, nil
}

// Download streams the object body.
func (f *S3Fetcher) Download(ctx context.Context, location string) (io.ReadCloser, error) {
	bucket, key, err := parseS3URL(location)
	if err != nil {
		return nil, err
	}
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "s3: get object %s/%s", bucket, key)
	}
	return out.Body, nil
}
