package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/toolguard/internal/audit"
	"github.com/breeze-rmm/toolguard/internal/backup"
	"github.com/breeze-rmm/toolguard/internal/detect"
	"github.com/breeze-rmm/toolguard/internal/logging"
	"github.com/breeze-rmm/toolguard/internal/render"
)

var (
	restoreFromOffload bool
	restoreRebuild     bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <manifest-dir | backup-id>",
	Short: "Put backed-up items back where they were",
	Long: backup.RestoreLimitations + `.

With --from-offload the argument is a backup ID, fetched from the configured
offload provider into the backup root first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h, err := newHost()
		if err != nil {
			return err
		}

		man, err := loadManifest(cmd, args[0])
		if err != nil {
			log.Error("cannot load backup", logging.KeyError, err)
			exitCode = restoreExitCode(nil, err)
			return nil
		}

		trail, err := audit.NewLogger(cfg)
		if err != nil {
			log.Warn("audit trail unavailable, continuing without it", logging.KeyError, err)
		}
		defer trail.Close()

		runID := man.ID
		trail.Log(audit.EventRestoreStarted, runID, map[string]any{"dir": man.Dir(), "items": len(man.Items)})
		res := backup.Restore(ctx, man, backup.RestoreOptions{Services: h.services})
		for _, it := range res.Restored {
			trail.Log(audit.EventItemRestored, runID, map[string]any{"kind": string(it.Kind), "original": it.Original})
		}
		for _, f := range res.Failed {
			trail.Log(audit.EventRestoreFailed, runID, map[string]any{"original": f.Item.Original, "error": f.Err.Error()})
		}

		exitCode = restoreExitCode(res, nil)
		fmt.Print(render.Restore(man, res))
		return nil
	},
}

func loadManifest(cmd *cobra.Command, arg string) (*backup.Manifest, error) {
	if restoreFromOffload {
		provider, prefix := offloadProvider()
		if provider == nil {
			return nil, errors.New("no usable offload provider configured")
		}
		return backup.Retrieve(cmd.Context(), provider, prefix, arg, cfg.BackupPath)
	}

	dir, err := filepath.Abs(arg)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		// A bare ID refers to a directory under the backup root.
		dir = filepath.Join(cfg.BackupPath, arg)
	}
	man, err := backup.LoadManifest(dir)
	if err != nil && restoreRebuild {
		log.Warn("manifest unreadable, rebuilding from backup contents", "dir", dir, logging.KeyError, err)
		return backup.Rebuild(dir)
	}
	return man, err
}

// restoreExitCode maps a restore run onto the shared exit codes: 0 when every
// item came back, 1 when some did not, 2 when nothing could be attempted.
func restoreExitCode(res *backup.RestoreResult, err error) int {
	switch {
	case err != nil, res == nil:
		return detect.ExitError
	case len(res.Failed) > 0:
		return detect.ExitFound
	default:
		return detect.ExitClean
	}
}

func init() {
	restoreCmd.Flags().BoolVar(&restoreFromOffload, "from-offload", false, "fetch the backup from the offload provider")
	restoreCmd.Flags().BoolVar(&restoreRebuild, "rebuild", false, "rebuild a missing or damaged manifest from the backup contents")
}
