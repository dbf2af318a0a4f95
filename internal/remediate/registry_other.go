//go:build !windows

package remediate

import "github.com/breeze-rmm/toolguard/internal/platform"

func deleteRegistryKey(string) error {
	return platform.ErrUnsupported
}
