//go:build windows

package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Microsoft/go-winio"
)

// preflight makes sure root exists and accepts new files.
func preflight(root string) error {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return fmt.Errorf("create backup root: %w", err)
	}
	f, err := os.CreateTemp(root, ".toolguard-write-*")
	if err != nil {
		return fmt.Errorf("backup root %s is not writable: %w", root, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// exportRegistryKey runs reg export with SeBackupPrivilege enabled so keys
// with restrictive ACLs can still be read.
func exportRegistryKey(ctx context.Context, key, dest string) error {
	return withPrivilege(winio.SeBackupPrivilege, func() error {
		return runReg(ctx, "export", key, dest, "/y")
	})
}

// importRegistryFile restores a reg export under SeRestorePrivilege.
func importRegistryFile(ctx context.Context, path string) error {
	return withPrivilege(winio.SeRestorePrivilege, func() error {
		return runReg(ctx, "import", path)
	})
}

// withPrivilege enables priv on the process token for the duration of fn,
// since reg.exe runs as a child process and inherits the process token.
func withPrivilege(priv string, fn func() error) error {
	if err := winio.EnableProcessPrivileges([]string{priv}); err != nil {
		log.Debug("could not enable privilege, continuing without it", "privilege", priv, "error", err)
		return fn()
	}
	defer func() {
		_ = winio.DisableProcessPrivileges([]string{priv})
	}()
	return fn()
}

func runReg(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, filepath.Join(os.Getenv("SystemRoot"), "System32", "reg.exe"), args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("reg %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
