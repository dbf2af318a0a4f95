package providers

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	gzipSuffix        = ".gz"
	maxDecompressSize = 2 * 1024 * 1024 * 1024 // 2GB decompression limit
)

// containedPath ensures that the resolved path stays within basePath.
// Returns the safe absolute path or an error if path traversal is detected.
func containedPath(basePath, untrustedPath string) (string, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	joined := filepath.Join(absBase, filepath.FromSlash(untrustedPath))
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) && absJoined != absBase {
		return "", fmt.Errorf("path traversal detected: %q resolves outside base %q", untrustedPath, absBase)
	}
	return absJoined, nil
}

// LocalProvider stores backups on a local or mounted filesystem, typically a
// network share. With Compress set each file is stored gzipped under its
// remote path plus ".gz"; the suffix is invisible to callers.
type LocalProvider struct {
	BasePath string
	Compress bool
}

// NewLocalProvider creates a compressing LocalProvider rooted at basePath.
func NewLocalProvider(basePath string) *LocalProvider {
	return &LocalProvider{
		BasePath: filepath.Clean(basePath),
		Compress: true,
	}
}

func (p *LocalProvider) resolve(remotePath string) (string, error) {
	if p.BasePath == "" {
		return "", errors.New("local provider base path is required")
	}
	if remotePath == "" {
		return "", errors.New("remote path is required")
	}
	if p.Compress {
		remotePath += gzipSuffix
	}
	return containedPath(p.BasePath, remotePath)
}

// Upload copies a file into the local backup store.
func (p *LocalProvider) Upload(ctx context.Context, localPath, remotePath string) error {
	if localPath == "" {
		return errors.New("local source path is required")
	}
	destPath, err := p.resolve(remotePath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wrap := passthrough
	if p.Compress {
		wrap = gzipWriter(filepath.Base(localPath))
	}
	if err := transfer(localPath, destPath, wrap, nil); err != nil {
		return fmt.Errorf("failed to upload %s: %w", remotePath, err)
	}
	return nil
}

// Download retrieves a file from the local backup store.
func (p *LocalProvider) Download(ctx context.Context, remotePath, localPath string) error {
	if localPath == "" {
		return errors.New("local destination path is required")
	}
	srcPath, err := p.resolve(remotePath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var unwrap readWrapper
	if p.Compress {
		unwrap = gzipReader
	}
	if err := transfer(srcPath, localPath, passthrough, unwrap); err != nil {
		return fmt.Errorf("failed to download %s: %w", remotePath, err)
	}
	return nil
}

// List enumerates files under the given prefix.
func (p *LocalProvider) List(ctx context.Context, prefix string) ([]string, error) {
	if p.BasePath == "" {
		return nil, errors.New("local provider base path is required")
	}

	root := p.BasePath
	if prefix != "" {
		var containErr error
		root, containErr = containedPath(p.BasePath, prefix)
		if containErr != nil {
			return nil, containErr
		}
	}

	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to stat prefix %s: %w", root, err)
	}

	var results []string
	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(p.BasePath, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		if p.Compress {
			if !strings.HasSuffix(relPath, gzipSuffix) {
				return nil
			}
			relPath = strings.TrimSuffix(relPath, gzipSuffix)
		}
		results = append(results, relPath)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to list backup files: %w", walkErr)
	}
	return results, nil
}

// Delete removes a file from the local backup store.
func (p *LocalProvider) Delete(ctx context.Context, remotePath string) error {
	target, err := p.resolve(remotePath)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete backup file: %w", err)
	}

	p.cleanupEmptyDirs(filepath.Dir(target))
	return nil
}

func (p *LocalProvider) cleanupEmptyDirs(startPath string) {
	base := filepath.Clean(p.BasePath)
	path := filepath.Clean(startPath)

	for path != base && path != "." && path != string(filepath.Separator) {
		entries, err := os.ReadDir(path)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(path); err != nil {
			return
		}
		path = filepath.Dir(path)
	}
}

type writeWrapper func(io.Writer) io.WriteCloser
type readWrapper func(io.Reader) (io.ReadCloser, error)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func passthrough(w io.Writer) io.WriteCloser { return nopWriteCloser{w} }

func gzipWriter(name string) writeWrapper {
	return func(w io.Writer) io.WriteCloser {
		gz := gzip.NewWriter(w)
		gz.Name = name
		return gz
	}
}

func gzipReader(r io.Reader) (io.ReadCloser, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(gz, maxDecompressSize), gz}, nil
}

// transfer streams srcPath to destPath through the optional wrappers and
// keeps the source modification time.
func transfer(srcPath, destPath string, wrapDest writeWrapper, wrapSrc readWrapper) (err error) {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	var src io.Reader = srcFile
	if wrapSrc != nil {
		rc, err := wrapSrc(srcFile)
		if err != nil {
			return err
		}
		defer rc.Close()
		src = rc
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	destFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	dst := wrapDest(destFile)

	_, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if closeErr := destFile.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chtimes(destPath, info.ModTime(), info.ModTime())
	}
	return err
}
