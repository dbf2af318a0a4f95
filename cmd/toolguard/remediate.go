package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/toolguard/internal/audit"
	"github.com/breeze-rmm/toolguard/internal/detect"
	"github.com/breeze-rmm/toolguard/internal/logging"
	"github.com/breeze-rmm/toolguard/internal/privilege"
	"github.com/breeze-rmm/toolguard/internal/remediate"
	"github.com/breeze-rmm/toolguard/internal/render"
)

var (
	remediateForce      bool
	remediateSkipBackup bool
	remediateBackupPath string
	remediateJSON       bool
)

var remediateCmd = &cobra.Command{
	Use:   "remediate",
	Short: "Back up and remove every trace of the tool",
	Long: `Runs detection, asks for the confirmation token, backs up configuration,
state and service definitions, then removes the tool step by step. A failed
step is reported and the remaining steps still run.

Executables are not backed up: restoring them requires reinstalling the tool.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h, err := newHost()
		if err != nil {
			return err
		}

		report, err := runDetection(ctx, h, cfg.ParallelProbes)
		if err != nil {
			exitCode = detect.ExitCode(report, err)
			return nil
		}
		resources := report.Resources()

		if err := privilege.Require(nil, remediate.Plan(resources)); err != nil {
			if errors.Is(err, privilege.ErrNotElevated) {
				log.Warn("some items may not be removable", logging.KeyError, err)
			} else {
				log.Warn("could not determine privileges", logging.KeyError, err)
			}
		}

		trail, err := audit.NewLogger(cfg)
		if err != nil {
			log.Warn("audit trail unavailable, continuing without it", logging.KeyError, err)
		}
		defer trail.Close()

		backupRoot := cfg.BackupPath
		if remediateBackupPath != "" {
			if backupRoot, err = filepath.Abs(remediateBackupPath); err != nil {
				return fmt.Errorf("backup path: %w", err)
			}
		}

		opts := remediate.Options{
			Force:        remediateForce,
			SkipBackup:   remediateSkipBackup,
			BackupRoot:   backupRoot,
			ConfirmToken: cfg.ConfirmToken,
			Input:        os.Stdin,
			Prompt:       os.Stderr,
			Backup:       h.backupManager(),
			Actions: &remediate.SystemActions{
				Services: h.services,
				Home:     h.home,
			},
			Audit: trail,
		}
		if cfg.VerifyAfterRemoval {
			opts.Verify = func(ctx context.Context) (*detect.Report, error) {
				return h.detector(cfg.ParallelProbes).Run(ctx)
			}
		}

		res, runErr := remediate.New(opts).Run(ctx, resources)
		exitCode = remediate.ExitCode(res, runErr)

		if remediateJSON && res != nil {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		fmt.Print(render.Remediation(res, runErr))
		return nil
	},
}

func init() {
	remediateCmd.Flags().BoolVar(&remediateForce, "force", false, "skip the confirmation prompt")
	remediateCmd.Flags().BoolVar(&remediateSkipBackup, "skip-backup", false, "remove without taking a backup first")
	remediateCmd.Flags().StringVar(&remediateBackupPath, "backup-path", "", "backup root (default from config backup_path)")
	remediateCmd.Flags().BoolVar(&remediateJSON, "json", false, "write the result as JSON to stdout")
}
