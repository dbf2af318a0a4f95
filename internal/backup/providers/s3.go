package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Provider stores backups in an S3-compatible bucket. Static credentials
// are used when set, otherwise the default AWS credential chain.
type S3Provider struct {
	Bucket          string
	Region          string
	accessKeyID     string
	secretAccessKey string
	sessionToken    string

	once    sync.Once
	client  *s3.Client
	initErr error
}

// NewS3Provider creates a new S3Provider.
func NewS3Provider(bucket, region, accessKeyID, secretAccessKey, sessionToken string) *S3Provider {
	return &S3Provider{
		Bucket:          bucket,
		Region:          region,
		accessKeyID:     accessKeyID,
		secretAccessKey: secretAccessKey,
		sessionToken:    sessionToken,
	}
}

func (s *S3Provider) getClient(ctx context.Context) (*s3.Client, error) {
	if s.Bucket == "" || s.Region == "" {
		return nil, errors.New("s3 bucket and region are required")
	}
	s.once.Do(func() {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s.Region)}
		if s.accessKeyID != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(s.accessKeyID, s.secretAccessKey, s.sessionToken)))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			s.initErr = fmt.Errorf("s3: load config: %w", err)
			return
		}
		s.client = s3.NewFromConfig(cfg)
	})
	return s.client, s.initErr
}

// Upload sends a local file to S3.
func (s *S3Provider) Upload(ctx context.Context, localPath, remotePath string) error {
	client, err := s.getClient(ctx)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("s3: open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = manager.NewUploader(client).Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(remotePath),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("s3: upload %s: %w", remotePath, err)
	}
	return nil
}

// Download retrieves a file from S3.
func (s *S3Provider) Download(ctx context.Context, remotePath, localPath string) error {
	client, err := s.getClient(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("s3: create destination directory: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("s3: create %s: %w", localPath, err)
	}

	_, err = manager.NewDownloader(client).Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(remotePath),
	})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("s3: download %s: %w", remotePath, err)
	}
	return nil
}

// List lists objects in the bucket with the given prefix.
func (s *S3Provider) List(ctx context.Context, prefix string) ([]string, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	pages := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// Delete removes an object from the bucket.
func (s *S3Provider) Delete(ctx context.Context, remotePath string) error {
	client, err := s.getClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(remotePath),
	})
	if err != nil {
		return fmt.Errorf("s3: delete %s: %w", remotePath, err)
	}
	return nil
}
