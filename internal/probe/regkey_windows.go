//go:build windows

package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/windows/registry"
)

func (p *RegistryProbe) Execute(ctx context.Context) Outcome {
	var (
		hits []Resource
		errs []error
	)
	for _, key := range p.keys {
		exists, err := registryKeyExists(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if exists {
			hits = append(hits, Resource{Kind: ResourceRegistryKey, Location: key})
		}
	}
	if len(hits) > 0 {
		locs := make([]string, len(hits))
		for i, h := range hits {
			locs[i] = h.Location
		}
		return p.found(p.description+": "+strings.Join(locs, ", "), hits...)
	}
	if len(errs) > 0 {
		return p.fail("open key", errors.Join(errs...))
	}
	return Outcome{}
}

func registryKeyExists(key string) (bool, error) {
	root, sub, err := SplitRegistryKey(key)
	if err != nil {
		return false, err
	}
	var hive registry.Key
	switch root {
	case "HKLM":
		hive = registry.LOCAL_MACHINE
	case "HKCU":
		hive = registry.CURRENT_USER
	case "HKCR":
		hive = registry.CLASSES_ROOT
	case "HKU":
		hive = registry.USERS
	}
	k, err := registry.OpenKey(hive, sub, registry.QUERY_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	k.Close()
	return true, nil
}
