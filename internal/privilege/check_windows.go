//go:build windows

package privilege

import "golang.org/x/sys/windows"

const hint = "re-run from an elevated prompt"

// IsElevated returns true if the process token is elevated.
func IsElevated() (bool, error) {
	return windows.GetCurrentProcessToken().IsElevated(), nil
}
