//go:build darwin

package svcquery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Status queries a launchd job by label. A job that is not loaded but has a
// plist on disk is reported as stopped.
func (c *Controller) Status(ctx context.Context, name string) (ServiceInfo, error) {
	output, err := c.run(ctx, "launchctl", "list")
	if err != nil {
		return ServiceInfo{Name: name, Status: StatusUnknown}, err
	}

	plist := c.findPlist(name)
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		label := fields[2]
		if label == name || strings.HasSuffix(label, "."+name) {
			info := ServiceInfo{
				Name:     label,
				Status:   StatusStopped,
				UnitPath: plist,
			}
			if fields[0] != "-" {
				info.Status = StatusRunning
			}
			return info, nil
		}
	}

	if plist != "" {
		return ServiceInfo{Name: name, Status: StatusStopped, UnitPath: plist}, nil
	}
	return ServiceInfo{Name: name, Status: StatusUnknown}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Stop unloads the job so launchd does not restart it.
func (c *Controller) Stop(ctx context.Context, name string) error {
	info, err := c.Status(ctx, name)
	if err != nil {
		return err
	}
	if info.UnitPath == "" {
		_, err := c.run(ctx, "launchctl", "remove", info.Name)
		return err
	}
	if info.Status != StatusRunning {
		return nil
	}
	_, err = c.run(ctx, "launchctl", "unload", info.UnitPath)
	return err
}

// Definition exports the job's plist.
func (c *Controller) Definition(ctx context.Context, name string) (Definition, error) {
	info, err := c.Status(ctx, name)
	if err != nil {
		return Definition{}, err
	}
	def := Definition{
		Name:     info.Name,
		Manager:  ManagerLaunchd,
		UnitPath: info.UnitPath,
	}
	if info.UnitPath != "" {
		content, err := os.ReadFile(info.UnitPath)
		if err != nil {
			return def, fmt.Errorf("svcquery: read plist %s: %w", info.UnitPath, err)
		}
		def.Unit = string(content)
	}
	return def, nil
}

// Remove unloads the job and deletes its plist.
func (c *Controller) Remove(ctx context.Context, name string) error {
	info, err := c.Status(ctx, name)
	if err != nil {
		return err
	}
	if info.UnitPath == "" {
		_, err := c.run(ctx, "launchctl", "remove", info.Name)
		return err
	}
	var errs []error
	if info.Status == StatusRunning {
		if _, err := c.run(ctx, "launchctl", "unload", "-w", info.UnitPath); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(info.UnitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("svcquery: remove plist: %w", err))
	}
	return errors.Join(errs...)
}

// Install writes an exported plist back and loads it.
func (c *Controller) Install(ctx context.Context, def Definition) error {
	if def.Manager != ManagerLaunchd {
		return fmt.Errorf("svcquery: cannot install %s definition on launchd", def.Manager)
	}
	if def.Unit == "" || def.UnitPath == "" {
		return fmt.Errorf("svcquery: definition for %s has no plist", def.Name)
	}
	if err := os.MkdirAll(filepath.Dir(def.UnitPath), 0o755); err != nil {
		return fmt.Errorf("svcquery: create plist dir: %w", err)
	}
	if err := os.WriteFile(def.UnitPath, []byte(def.Unit), 0o644); err != nil {
		return fmt.Errorf("svcquery: write plist: %w", err)
	}
	_, err := c.run(ctx, "launchctl", "load", "-w", def.UnitPath)
	return err
}

func (c *Controller) findPlist(label string) string {
	paths := []string{
		"/Library/LaunchDaemons/" + label + ".plist",
		"/Library/LaunchAgents/" + label + ".plist",
	}
	if c != nil && c.Home != "" {
		paths = append(paths, filepath.Join(c.Home, "Library", "LaunchAgents", label+".plist"))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
