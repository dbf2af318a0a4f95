package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Backblaze/blazer/b2"
)

// B2Provider stores backups in a Backblaze B2 bucket.
type B2Provider struct {
	Bucket         string
	accountID      string
	applicationKey string

	mu     sync.Mutex
	bucket *b2.Bucket
}

// NewB2Provider creates a provider for bucket.
func NewB2Provider(bucket, accountID, applicationKey string) *B2Provider {
	return &B2Provider{Bucket: bucket, accountID: accountID, applicationKey: applicationKey}
}

// getBucket authorizes on first use. A failed authorization is retried on
// the next call.
func (p *B2Provider) getBucket(ctx context.Context) (*b2.Bucket, error) {
	if p.Bucket == "" || p.accountID == "" || p.applicationKey == "" {
		return nil, errors.New("b2 bucket, account id and application key are required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bucket != nil {
		return p.bucket, nil
	}
	client, err := b2.NewClient(ctx, p.accountID, p.applicationKey)
	if err != nil {
		return nil, fmt.Errorf("b2: authorize: %w", err)
	}
	bucket, err := client.Bucket(ctx, p.Bucket)
	if err != nil {
		return nil, fmt.Errorf("b2: open bucket %s: %w", p.Bucket, err)
	}
	p.bucket = bucket
	return bucket, nil
}

// Upload sends a local file to the bucket.
func (p *B2Provider) Upload(ctx context.Context, localPath, remotePath string) error {
	bucket, err := p.getBucket(ctx)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("b2: open %s: %w", localPath, err)
	}
	defer f.Close()

	w := bucket.Object(remotePath).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("b2: upload %s: %w", remotePath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("b2: upload %s: %w", remotePath, err)
	}
	return nil
}

// Download retrieves an object into localPath.
func (p *B2Provider) Download(ctx context.Context, remotePath, localPath string) error {
	bucket, err := p.getBucket(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("b2: create destination directory: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("b2: create %s: %w", localPath, err)
	}

	r := bucket.Object(remotePath).NewReader(ctx)
	_, err = io.Copy(f, r)
	if closeErr := r.Close(); err == nil {
		err = closeErr
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("b2: download %s: %w", remotePath, err)
	}
	return nil
}

// List returns object names under prefix.
func (p *B2Provider) List(ctx context.Context, prefix string) ([]string, error) {
	bucket, err := p.getBucket(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	it := bucket.List(ctx, b2.ListPrefix(prefix))
	for it.Next() {
		names = append(names, it.Object().Name())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("b2: list %s: %w", prefix, err)
	}
	return names, nil
}

// Delete removes an object.
func (p *B2Provider) Delete(ctx context.Context, remotePath string) error {
	bucket, err := p.getBucket(ctx)
	if err != nil {
		return err
	}
	if err := bucket.Object(remotePath).Delete(ctx); err != nil && !b2.IsNotExist(err) {
		return fmt.Errorf("b2: delete %s: %w", remotePath, err)
	}
	return nil
}
