//go:build linux

package svcquery

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const systemdUnitDir = "/etc/systemd/system"

// Status queries a systemd unit.
func (c *Controller) Status(ctx context.Context, name string) (ServiceInfo, error) {
	unit := unitName(name)
	out, err := c.run(ctx, "systemctl", "show", unit, "--no-pager",
		"--property=LoadState,ActiveState,UnitFileState,FragmentPath,Description,ExecStart")
	if err != nil {
		if bytes.Contains(out, []byte("not been booted with systemd")) {
			return ServiceInfo{Name: unit, Status: StatusUnknown}, fmt.Errorf("%w: systemd is not running", ErrUnsupported)
		}
		return ServiceInfo{Name: unit, Status: StatusUnknown}, err
	}

	props := parseProperties(out)
	if props["LoadState"] == "not-found" || props["LoadState"] == "" {
		return ServiceInfo{Name: unit, Status: StatusUnknown}, fmt.Errorf("%w: %s", ErrNotFound, unit)
	}

	info := ServiceInfo{
		Name:        unit,
		DisplayName: props["Description"],
		Status:      mapSystemdState(props["ActiveState"], props["UnitFileState"]),
		StartType:   props["UnitFileState"],
		BinaryPath:  execStartPath(props["ExecStart"]),
		UnitPath:    props["FragmentPath"],
	}
	return info, nil
}

// Stop stops a running unit. Stopping an inactive unit is not an error.
func (c *Controller) Stop(ctx context.Context, name string) error {
	if _, err := c.Status(ctx, name); err != nil {
		return err
	}
	_, err := c.run(ctx, "systemctl", "stop", unitName(name))
	return err
}

// Definition exports the unit file for later re-registration.
func (c *Controller) Definition(ctx context.Context, name string) (Definition, error) {
	info, err := c.Status(ctx, name)
	if err != nil {
		return Definition{}, err
	}
	def := Definition{
		Name:        info.Name,
		Manager:     ManagerSystemd,
		DisplayName: info.DisplayName,
		UnitPath:    info.UnitPath,
		BinaryPath:  info.BinaryPath,
		StartType:   info.StartType,
	}
	if info.UnitPath != "" {
		content, err := os.ReadFile(info.UnitPath)
		if err != nil {
			return def, fmt.Errorf("svcquery: read unit %s: %w", info.UnitPath, err)
		}
		def.Unit = string(content)
	}
	return def, nil
}

// Remove disables the unit, deletes its unit file and reloads systemd.
func (c *Controller) Remove(ctx context.Context, name string) error {
	info, err := c.Status(ctx, name)
	if err != nil {
		return err
	}
	var errs []error
	if _, err := c.run(ctx, "systemctl", "disable", info.Name); err != nil {
		errs = append(errs, err)
	}
	if info.UnitPath != "" {
		if err := os.Remove(info.UnitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("svcquery: remove unit file: %w", err))
		}
	}
	if _, err := c.run(ctx, "systemctl", "daemon-reload"); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Install writes an exported unit back and enables it.
func (c *Controller) Install(ctx context.Context, def Definition) error {
	if def.Manager != ManagerSystemd {
		return fmt.Errorf("svcquery: cannot install %s definition on systemd", def.Manager)
	}
	if def.Unit == "" {
		return fmt.Errorf("svcquery: definition for %s has no unit content", def.Name)
	}
	path := def.UnitPath
	if path == "" {
		path = filepath.Join(systemdUnitDir, unitName(def.Name))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("svcquery: create unit dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(def.Unit), 0o644); err != nil {
		return fmt.Errorf("svcquery: write unit: %w", err)
	}
	if _, err := c.run(ctx, "systemctl", "daemon-reload"); err != nil {
		return err
	}
	if def.StartType == "enabled" {
		_, err := c.run(ctx, "systemctl", "enable", unitName(def.Name))
		return err
	}
	return nil
}

func unitName(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

func parseProperties(out []byte) map[string]string {
	props := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), "=")
		if ok {
			props[k] = v
		}
	}
	return props
}

func mapSystemdState(active, unitFile string) ServiceStatus {
	switch active {
	case "active", "activating", "reloading":
		return StatusRunning
	}
	if unitFile == "disabled" || unitFile == "masked" {
		return StatusDisabled
	}
	if active == "inactive" || active == "failed" || active == "deactivating" {
		return StatusStopped
	}
	return StatusUnknown
}

// execStartPath pulls the binary out of systemd's ExecStart property, which
// looks like "{ path=/usr/bin/x ; argv[]=/usr/bin/x run ; ... }".
func execStartPath(prop string) string {
	_, rest, ok := strings.Cut(prop, "path=")
	if !ok {
		return ""
	}
	path, _, _ := strings.Cut(rest, " ")
	return strings.TrimSpace(strings.TrimSuffix(path, ";"))
}
