package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// copyIn copies a file or directory tree into the manifest's files/ mirror.
func copyIn(man *Manifest, original string) (BackedUpItem, error) {
	info, err := os.Lstat(original)
	if err != nil {
		return BackedUpItem{}, err
	}
	rel := filesDir + "/" + mirrorPath(original)
	dest := filepath.Join(man.Dir(), filepath.FromSlash(rel))

	item := BackedUpItem{Original: original, Backup: rel, CopiedAt: time.Now().UTC()}
	if info.IsDir() {
		item.Kind = KindDirectory
		item.Files, item.Size, item.SHA256, err = copyTree(original, dest)
	} else {
		item.Kind = KindFile
		item.Size, item.SHA256, err = copyFile(original, dest, info.Mode())
	}
	if err != nil {
		return BackedUpItem{}, err
	}
	return item, nil
}

// copyFile copies src to dst with the given mode and returns the size and
// SHA-256 of what was written.
func copyFile(src, dst string, mode fs.FileMode) (int64, string, error) {
	if mode&fs.ModeSymlink != 0 {
		return 0, "", copySymlink(src, dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, "", err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return 0, "", fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return 0, "", fmt.Errorf("create %s: %w", dst, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, "", fmt.Errorf("copy %s: %w", src, err)
	}
	if info, statErr := in.Stat(); statErr == nil {
		_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}
	_ = os.Remove(dst)
	return os.Symlink(target, dst)
}

// copyTree copies a directory recursively. The returned digest covers every
// relative path and file hash in walk order, so two identical trees share it.
func copyTree(src, dst string) (files int, size int64, digest string, err error) {
	tree := sha256.New()
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0, info.Mode().IsRegular():
			n, sum, err := copyFile(path, target, info.Mode())
			if err != nil {
				return err
			}
			files++
			size += n
			fmt.Fprintf(tree, "%s\x00%s\n", filepath.ToSlash(rel), sum)
			return nil
		default:
			log.Debug("skipping special file", "path", path, "mode", info.Mode().String())
			return nil
		}
	})
	if err != nil {
		return 0, 0, "", err
	}
	return files, size, hex.EncodeToString(tree.Sum(nil)), nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// exportService writes the service's registration as YAML under services/.
func exportService(ctx context.Context, man *Manifest, svc ServiceExporter, name string) (BackedUpItem, error) {
	def, err := svc.Definition(ctx, name)
	if err != nil {
		return BackedUpItem{}, err
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return BackedUpItem{}, fmt.Errorf("marshal service definition: %w", err)
	}
	rel := servicesDir + "/" + safeName(name) + ".yaml"
	dest := filepath.Join(man.Dir(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return BackedUpItem{}, err
	}
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return BackedUpItem{}, err
	}
	return BackedUpItem{
		Original: name,
		Backup:   rel,
		Kind:     KindServiceDefinition,
		Size:     int64(len(data)),
		SHA256:   hashBytes(data),
		CopiedAt: time.Now().UTC(),
	}, nil
}

// exportRegistry exports a registry key to registry/<n>.reg.
func exportRegistry(ctx context.Context, man *Manifest, key string, n int) (BackedUpItem, error) {
	rel := fmt.Sprintf("%s/%03d-%s.reg", registryDir, n, safeName(key))
	dest := filepath.Join(man.Dir(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return BackedUpItem{}, err
	}
	if err := exportRegistryKey(ctx, key, dest); err != nil {
		return BackedUpItem{}, err
	}
	sum, size, err := hashFile(dest)
	if err != nil {
		return BackedUpItem{}, err
	}
	return BackedUpItem{
		Original: key,
		Backup:   rel,
		Kind:     KindRegistryKey,
		Size:     size,
		SHA256:   sum,
		CopiedAt: time.Now().UTC(),
	}, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
