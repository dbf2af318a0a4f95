package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/toolguard/internal/audit"
	"github.com/breeze-rmm/toolguard/internal/detect"
	"github.com/breeze-rmm/toolguard/internal/logging"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the remediation audit trail",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [file]",
	Short: "Check the hash chain of an audit log",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.AuditPath
		if len(args) == 1 {
			path = args[0]
		}
		n, err := audit.Verify(path)
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err != nil {
			log.Error("audit log failed verification", "path", path, "entries", n, logging.KeyError, err)
			exitCode = detect.ExitFound
			return nil
		}
		logging.Success(cmd.Context(), log, "audit log verified", "path", path, "entries", n)
		fmt.Printf("%s: %d entries, chain intact\n", path, n)
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditVerifyCmd)
}
