package probe

import (
	"fmt"
	"strings"
)

// RegistryProbe matches Windows registry keys. On other systems it is never
// resolved, since its declaration carries only platform.Windows.
type RegistryProbe struct {
	base
	keys []string
}

// NewRegistryKey returns a registry key probe.
func NewRegistryKey(d Declaration, keys ...string) *RegistryProbe {
	return &RegistryProbe{base: newBase(d), keys: keys}
}

var registryHives = map[string]string{
	"HKEY_LOCAL_MACHINE": "HKLM",
	"HKLM":               "HKLM",
	"HKEY_CURRENT_USER":  "HKCU",
	"HKCU":               "HKCU",
	"HKEY_CLASSES_ROOT":  "HKCR",
	"HKCR":               "HKCR",
	"HKEY_USERS":         "HKU",
	"HKU":                "HKU",
}

// SplitRegistryKey splits `HKCU\Software\X` into its short hive name and
// subkey path.
func SplitRegistryKey(key string) (hive, sub string, err error) {
	root, rest, ok := strings.Cut(key, `\`)
	if !ok || rest == "" {
		return "", "", fmt.Errorf("registry key %q has no subkey", key)
	}
	hive, ok = registryHives[strings.ToUpper(root)]
	if !ok {
		return "", "", fmt.Errorf("registry key %q: unknown hive %q", key, root)
	}
	return hive, rest, nil
}
