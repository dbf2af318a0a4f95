//go:build !windows

package backup

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/breeze-rmm/toolguard/internal/platform"
)

// preflight makes sure root exists and is writable before anything is
// copied.
func preflight(root string) error {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return fmt.Errorf("create backup root: %w", err)
	}
	if err := unix.Access(root, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("backup root %s is not writable: %w", root, err)
	}
	return nil
}

func exportRegistryKey(context.Context, string, string) error {
	return platform.ErrUnsupported
}

func importRegistryFile(context.Context, string) error {
	return platform.ErrUnsupported
}
