package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureProvider stores backups as blobs in one Azure Storage container.
type AzureProvider struct {
	Container        string
	connectionString string

	once    sync.Once
	client  *azblob.Client
	initErr error
}

// NewAzureProvider creates a provider for container using a storage account
// connection string.
func NewAzureProvider(container, connectionString string) *AzureProvider {
	return &AzureProvider{Container: container, connectionString: connectionString}
}

func (a *AzureProvider) getClient() (*azblob.Client, error) {
	if a.Container == "" || a.connectionString == "" {
		return nil, errors.New("azure container and connection string are required")
	}
	a.once.Do(func() {
		a.client, a.initErr = azblob.NewClientFromConnectionString(a.connectionString, nil)
		if a.initErr != nil {
			a.initErr = fmt.Errorf("azure: create client: %w", a.initErr)
		}
	})
	return a.client, a.initErr
}

// Upload sends a local file to the container.
func (a *AzureProvider) Upload(ctx context.Context, localPath, remotePath string) error {
	client, err := a.getClient()
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("azure: open %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := client.UploadFile(ctx, a.Container, remotePath, f, nil); err != nil {
		return fmt.Errorf("azure: upload %s: %w", remotePath, err)
	}
	return nil
}

// Download retrieves a blob into localPath.
func (a *AzureProvider) Download(ctx context.Context, remotePath, localPath string) error {
	client, err := a.getClient()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("azure: create destination directory: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("azure: create %s: %w", localPath, err)
	}

	_, err = client.DownloadFile(ctx, a.Container, remotePath, f, nil)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("azure: download %s: %w", remotePath, err)
	}
	return nil
}

// List returns blob names under prefix.
func (a *AzureProvider) List(ctx context.Context, prefix string) ([]string, error) {
	client, err := a.getClient()
	if err != nil {
		return nil, err
	}
	var names []string
	pager := client.NewListBlobsFlatPager(a.Container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azure: list %s: %w", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

// Delete removes a blob.
func (a *AzureProvider) Delete(ctx context.Context, remotePath string) error {
	client, err := a.getClient()
	if err != nil {
		return err
	}
	if _, err := client.DeleteBlob(ctx, a.Container, remotePath, nil); err != nil {
		return fmt.Errorf("azure: delete %s: %w", remotePath, err)
	}
	return nil
}
