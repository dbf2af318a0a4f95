//go:build windows

package remediate

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"

	"github.com/breeze-rmm/toolguard/internal/probe"
)

var hives = map[string]registry.Key{
	"HKLM": registry.LOCAL_MACHINE,
	"HKCU": registry.CURRENT_USER,
	"HKCR": registry.CLASSES_ROOT,
	"HKU":  registry.USERS,
}

// deleteRegistryKey removes key and everything below it.
func deleteRegistryKey(key string) error {
	root, sub, err := probe.SplitRegistryKey(key)
	if err != nil {
		return err
	}
	return deleteTree(hives[root], sub)
}

func deleteTree(hive registry.Key, path string) error {
	k, err := registry.OpenKey(hive, path, registry.ENUMERATE_SUB_KEYS|registry.QUERY_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	children, err := k.ReadSubKeyNames(-1)
	k.Close()
	if err != nil {
		return fmt.Errorf("enumerate %s: %w", path, err)
	}
	for _, child := range children {
		if err := deleteTree(hive, path+`\`+child); err != nil {
			return err
		}
	}
	if err := registry.DeleteKey(hive, path); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}
