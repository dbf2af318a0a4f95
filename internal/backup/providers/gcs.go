package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSProvider stores backups in a Google Cloud Storage bucket. Without a
// credentials file, application default credentials are used.
type GCSProvider struct {
	Bucket          string
	credentialsFile string

	once    sync.Once
	client  *storage.Client
	initErr error
}

// NewGCSProvider creates a provider for bucket.
func NewGCSProvider(bucket, credentialsFile string) *GCSProvider {
	return &GCSProvider{Bucket: bucket, credentialsFile: credentialsFile}
}

func (g *GCSProvider) getBucket(ctx context.Context) (*storage.BucketHandle, error) {
	if g.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	g.once.Do(func() {
		var opts []option.ClientOption
		if g.credentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(g.credentialsFile))
		}
		g.client, g.initErr = storage.NewClient(ctx, opts...)
		if g.initErr != nil {
			g.initErr = fmt.Errorf("gcs: create client: %w", g.initErr)
		}
	})
	if g.initErr != nil {
		return nil, g.initErr
	}
	return g.client.Bucket(g.Bucket), nil
}

// Upload sends a local file to the bucket.
func (g *GCSProvider) Upload(ctx context.Context, localPath, remotePath string) error {
	bucket, err := g.getBucket(ctx)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("gcs: open %s: %w", localPath, err)
	}
	defer f.Close()

	w := bucket.Object(remotePath).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: upload %s: %w", remotePath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: upload %s: %w", remotePath, err)
	}
	return nil
}

// Download retrieves an object into localPath.
func (g *GCSProvider) Download(ctx context.Context, remotePath, localPath string) error {
	bucket, err := g.getBucket(ctx)
	if err != nil {
		return err
	}
	r, err := bucket.Object(remotePath).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("gcs: open %s: %w", remotePath, err)
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("gcs: create destination directory: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("gcs: create %s: %w", localPath, err)
	}
	_, err = io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("gcs: download %s: %w", remotePath, err)
	}
	return nil
}

// List returns object names under prefix.
func (g *GCSProvider) List(ctx context.Context, prefix string) ([]string, error) {
	bucket, err := g.getBucket(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	it := bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs: list %s: %w", prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// Delete removes an object.
func (g *GCSProvider) Delete(ctx context.Context, remotePath string) error {
	bucket, err := g.getBucket(ctx)
	if err != nil {
		return err
	}
	if err := bucket.Object(remotePath).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: delete %s: %w", remotePath, err)
	}
	return nil
}
