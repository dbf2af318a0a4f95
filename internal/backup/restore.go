package backup

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/toolguard/internal/logging"
	"github.com/breeze-rmm/toolguard/internal/svcquery"
)

// RestoreLimitations is shown to the operator before every restore.
const RestoreLimitations = "restore recovers configuration, state, service definitions and registry keys; " +
	"removed executables and package-manager registrations are not restored and require reinstalling the tool"

// ServiceInstaller re-registers an exported service.
type ServiceInstaller interface {
	Install(ctx context.Context, def svcquery.Definition) error
}

// RestoreOptions configures Restore.
type RestoreOptions struct {
	Services ServiceInstaller
}

// RestoreFailure is an item that could not be restored.
type RestoreFailure struct {
	Item BackedUpItem
	Err  error
}

// RestoreResult reports a restore run item by item.
type RestoreResult struct {
	Restored []BackedUpItem
	Failed   []RestoreFailure
	// NotRestorable lists excluded executables from the manifest.
	NotRestorable []string
}

// Err joins every per-item failure.
func (r *RestoreResult) Err() error {
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = fmt.Errorf("%s: %w", f.Item.Original, f.Err)
	}
	return errors.Join(errs...)
}

// Restore copies each item of m back to its original location. Items are
// independent: a failure on one does not stop the others.
func Restore(ctx context.Context, m *Manifest, opts RestoreOptions) *RestoreResult {
	res := &RestoreResult{NotRestorable: m.ExcludedExecutables()}

	log.Warn(RestoreLimitations)
	for _, exe := range res.NotRestorable {
		log.Warn("executable was not backed up and will not be restored", "path", exe)
	}
	if !m.Complete {
		log.Warn("manifest is partial, restoring the items it lists", "id", m.ID, "items", len(m.Items))
	}

	for _, item := range m.Items {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, RestoreFailure{Item: item, Err: err})
			continue
		}
		if err := restoreItem(ctx, m, item, opts); err != nil {
			log.Error("restore failed", "kind", item.Kind, "original", item.Original, logging.KeyError, err)
			res.Failed = append(res.Failed, RestoreFailure{Item: item, Err: err})
			continue
		}
		logging.Success(ctx, log, "restored", "kind", item.Kind, "original", item.Original)
		res.Restored = append(res.Restored, item)
	}
	return res
}

func restoreItem(ctx context.Context, m *Manifest, item BackedUpItem, opts RestoreOptions) error {
	src := m.Path(item)
	switch item.Kind {
	case KindFile:
		info, err := os.Lstat(src)
		if err != nil {
			return err
		}
		_, sum, err := copyFile(src, item.Original, info.Mode())
		if err != nil {
			return err
		}
		if item.SHA256 != "" && info.Mode().IsRegular() && sum != item.SHA256 {
			return fmt.Errorf("checksum mismatch after restore (want %s, got %s)", item.SHA256, sum)
		}
		return nil

	case KindDirectory:
		info, err := os.Stat(src)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", src)
		}
		if err := os.MkdirAll(item.Original, info.Mode().Perm()|0o700); err != nil {
			return err
		}
		_, _, digest, err := copyTree(src, item.Original)
		if err != nil {
			return err
		}
		if item.SHA256 != "" && digest != item.SHA256 {
			return fmt.Errorf("directory content differs from backup after restore")
		}
		return nil

	case KindServiceDefinition:
		if opts.Services == nil {
			return errors.New("no service manager available to reinstall service")
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		var def svcquery.Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("parse service definition: %w", err)
		}
		return opts.Services.Install(ctx, def)

	case KindRegistryKey:
		return importRegistryFile(ctx, src)

	default:
		return fmt.Errorf("unsupported item kind %q", item.Kind)
	}
}
