package remoteconfig

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options locate the remote config object. Endpoint and static
// credentials are optional; without them the default AWS chain is used.
type S3Options struct {
	Bucket          string
	Key             string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Fetcher downloads a JSON object holding Values from S3.
// Parameters missing from the object keep their defaults.
type S3Fetcher struct {
	downloader *manager.Downloader
	bucket     string
	key        string
}

func NewS3Fetcher(ctx context.Context, opts S3Options) (*S3Fetcher, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, fmt.Errorf("s3 remote config requires bucket and key")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Fetcher{
		downloader: manager.NewDownloader(client, func(d *manager.Downloader) { d.Concurrency = 1 }),
		bucket:     opts.Bucket,
		key:        opts.Key,
	}, nil
}

func (f *S3Fetcher) Fetch(ctx context.Context) (Values, error) {
	buf := manager.NewWriteAtBuffer(nil)
	if _, err := f.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	}); err != nil {
		return Values{}, fmt.Errorf("downloading s3://%s/%s: %w", f.bucket, f.key, err)
	}

	values := Defaults()
	if err := json.Unmarshal(buf.Bytes(), &values); err != nil {
		return Values{}, fmt.Errorf("decoding remote config: %w", err)
	}
	return values, nil
}
