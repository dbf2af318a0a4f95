// Package backup snapshots everything remediation is about to destroy and
// restores it on demand.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/breeze-rmm/toolguard/internal/backup/providers"
	"github.com/breeze-rmm/toolguard/internal/logging"
	"github.com/breeze-rmm/toolguard/internal/svcquery"
)

var log = logging.L("backup")

// Kind classifies a backed-up resource.
type Kind string

const (
	KindFile              Kind = "file"
	KindDirectory         Kind = "directory"
	KindRegistryKey       Kind = "registry_key"
	KindServiceDefinition Kind = "service_definition"
)

// Layout of a manifest directory.
const (
	ManifestFile = "manifest.json"
	filesDir     = "files"
	servicesDir  = "services"
	registryDir  = "registry"
)

// Target is one resource to back up. Files and directories are copied,
// services and registry keys are exported.
type Target struct {
	Kind     Kind
	Location string
	// Executable targets are recorded but never copied. Restoring a removed
	// executable means reinstalling the tool.
	Executable bool
}

// ServiceExporter reads a service's registration.
type ServiceExporter interface {
	Definition(ctx context.Context, name string) (svcquery.Definition, error)
}

// ErrRootInsideTarget rejects a backup root that would be copied into itself
// and then removed along with the target it sits in.
var ErrRootInsideTarget = errors.New("backup root is inside a backup target")

// Error is a backup failure. Manifest holds whatever was copied before the
// failure and is restorable for those items.
type Error struct {
	Manifest *Manifest
	Location string
	Err      error
}

func (e *Error) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("backup: %v", e.Err)
	}
	return fmt.Sprintf("backup: %s: %v", e.Location, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options configures a Manager.
type Options struct {
	Services ServiceExporter
	// Provider, when set, receives a copy of every completed backup under
	// OffloadPrefix/<manifest id>/.
	Provider      providers.BackupProvider
	OffloadPrefix string
	Hostname      string
	Now           func() time.Time
}

// Manager creates backups.
type Manager struct {
	opts Options
}

// NewManager returns a Manager.
func NewManager(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Hostname == "" {
		opts.Hostname, _ = os.Hostname()
	}
	return &Manager{opts: opts}
}

// CreateBackup copies targets into a new manifest directory under root.
// manifest.json is rewritten after every item, so on failure the returned
// *Error carries a valid partial manifest.
func (m *Manager) CreateBackup(ctx context.Context, targets []Target, root string) (*Manifest, error) {
	if t, ok := enclosingTarget(root, targets); ok {
		return nil, &Error{Location: root, Err: fmt.Errorf("%w %s", ErrRootInsideTarget, t.Location)}
	}
	if err := preflight(root); err != nil {
		return nil, &Error{Location: root, Err: err}
	}

	now := m.opts.Now().UTC()
	id := now.Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &Error{Location: dir, Err: err}
	}

	man := newManifest(id, dir, m.opts.Hostname, now)
	if err := man.Save(); err != nil {
		return nil, &Error{Manifest: man, Location: dir, Err: err}
	}
	log.Info("backup started", "id", id, "dir", dir, "targets", len(targets))

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return man, &Error{Manifest: man, Err: err}
		}
		if t.Executable {
			man.exclude(t, "executable binaries are not backed up; reinstall to restore")
			log.Warn("executable not backed up, restore will require reinstallation", "path", t.Location)
			if err := man.Save(); err != nil {
				return man, &Error{Manifest: man, Location: t.Location, Err: err}
			}
			continue
		}

		item, err := m.backupOne(ctx, man, t)
		switch {
		case errors.Is(err, fs.ErrNotExist) || errors.Is(err, svcquery.ErrNotFound):
			man.exclude(t, "no longer present")
			log.Info("backup target vanished, skipping", "path", t.Location)
		case err != nil:
			log.Error("backup failed", "path", t.Location, logging.KeyError, err)
			_ = man.Save()
			return man, &Error{Manifest: man, Location: t.Location, Err: err}
		default:
			man.Items = append(man.Items, item)
			log.Debug("backed up", "kind", item.Kind, "from", item.Original, "to", item.Backup)
		}
		if err := man.Save(); err != nil {
			return man, &Error{Manifest: man, Location: t.Location, Err: err}
		}
	}

	man.Complete = true
	if err := man.Save(); err != nil {
		return man, &Error{Manifest: man, Err: err}
	}
	log.Info("backup complete", "id", id, "items", len(man.Items), "excluded", len(man.Excluded))

	if m.opts.Provider != nil {
		m.offload(ctx, man)
	}
	return man, nil
}

// enclosingTarget returns the file or directory target that root equals or
// sits under.
func enclosingTarget(root string, targets []Target) (Target, bool) {
	root = cleanAbs(root)
	for _, t := range targets {
		if t.Kind != KindFile && t.Kind != KindDirectory {
			continue
		}
		rel, err := filepath.Rel(cleanAbs(t.Location), root)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return t, true
		}
	}
	return Target{}, false
}

// cleanAbs resolves symlinks in the longest existing prefix of p, so a root
// that does not exist yet compares against resolved target paths.
func cleanAbs(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	p = filepath.Clean(p)
	var rest []string
	for dir := p; ; {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return p
		}
		rest = append([]string{filepath.Base(dir)}, rest...)
		dir = parent
	}
}

func (m *Manager) backupOne(ctx context.Context, man *Manifest, t Target) (BackedUpItem, error) {
	switch t.Kind {
	case KindFile, KindDirectory:
		return copyIn(man, t.Location)
	case KindServiceDefinition:
		if m.opts.Services == nil {
			return BackedUpItem{}, errors.New("no service manager available to export definition")
		}
		return exportService(ctx, man, m.opts.Services, t.Location)
	case KindRegistryKey:
		return exportRegistry(ctx, man, t.Location, len(man.Items))
	default:
		return BackedUpItem{}, fmt.Errorf("unsupported backup kind %q", t.Kind)
	}
}

// offload copies the manifest directory to the configured provider. Failure
// only costs the off-host copy.
func (m *Manager) offload(ctx context.Context, man *Manifest) {
	prefix := strings.Trim(m.opts.OffloadPrefix+"/"+man.ID, "/")
	err := filepath.WalkDir(man.Dir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() == ManifestFile {
			return err
		}
		rel, err := filepath.Rel(man.Dir(), path)
		if err != nil {
			return err
		}
		return m.opts.Provider.Upload(ctx, path, prefix+"/"+filepath.ToSlash(rel))
	})
	if err != nil {
		log.Warn("backup offload failed, local copy kept", "id", man.ID, logging.KeyError, err)
		return
	}
	man.Offloaded = prefix
	if err := man.Save(); err != nil {
		log.Warn("could not record offload in manifest", logging.KeyError, err)
		return
	}
	// The manifest goes last so a remote copy with a manifest is complete.
	if err := m.opts.Provider.Upload(ctx, filepath.Join(man.Dir(), ManifestFile), prefix+"/"+ManifestFile); err != nil {
		log.Warn("backup offload failed, local copy kept", "id", man.ID, logging.KeyError, err)
		return
	}
	log.Info("backup offloaded", "id", man.ID, "prefix", prefix)
}

// Retrieve downloads an offloaded backup into root and loads its manifest.
func Retrieve(ctx context.Context, provider providers.BackupProvider, prefix, id, root string) (*Manifest, error) {
	remote := strings.Trim(prefix+"/"+id, "/")
	names, err := provider.List(ctx, remote+"/")
	if err != nil {
		return nil, fmt.Errorf("backup: list %s: %w", remote, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("backup: no offloaded backup at %s", remote)
	}
	dir := filepath.Join(root, id)
	for _, name := range names {
		rel := strings.TrimPrefix(name, remote+"/")
		if rel == name || rel == "" || strings.Contains(rel, "..") {
			continue
		}
		if err := provider.Download(ctx, name, filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			return nil, fmt.Errorf("backup: download %s: %w", name, err)
		}
	}
	return LoadManifest(dir)
}
