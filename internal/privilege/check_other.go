//go:build !windows

package privilege

import "golang.org/x/sys/unix"

const hint = "re-run with sudo"

// IsElevated returns true if the effective uid is 0 (root).
func IsElevated() (bool, error) {
	return unix.Geteuid() == 0, nil
}
