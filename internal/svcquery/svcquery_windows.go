//go:build windows

package svcquery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// Status queries a single Windows service by name.
func (c *Controller) Status(_ context.Context, name string) (ServiceInfo, error) {
	m, err := mgr.Connect()
	if err != nil {
		return ServiceInfo{}, fmt.Errorf("svcquery: connect to SCM: %w", err)
	}
	defer m.Disconnect()

	s, err := openService(m, name)
	if err != nil {
		return ServiceInfo{Name: name, Status: StatusUnknown}, err
	}
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return ServiceInfo{Name: name, Status: StatusUnknown}, fmt.Errorf("svcquery: query %s: %w", name, err)
	}

	cfg, _ := s.Config()

	return ServiceInfo{
		Name:        name,
		DisplayName: cfg.DisplayName,
		Status:      mapWindowsState(status.State),
		StartType:   mapWindowsStartType(cfg.StartType),
		BinaryPath:  cfg.BinaryPathName,
	}, nil
}

// Stop sends a stop control and waits for the service to reach Stopped.
func (c *Controller) Stop(ctx context.Context, name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("svcquery: connect to SCM: %w", err)
	}
	defer m.Disconnect()

	s, err := openService(m, name)
	if err != nil {
		return err
	}
	defer s.Close()

	status, err := s.Query()
	if err != nil {
		return fmt.Errorf("svcquery: query %s: %w", name, err)
	}
	if status.State == svc.Stopped {
		return nil
	}
	if _, err := s.Control(svc.Stop); err != nil {
		return fmt.Errorf("svcquery: stop %s: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("svcquery: %s did not stop within %s", name, c.timeout())
		case <-ticker.C:
			status, err := s.Query()
			if err != nil {
				return fmt.Errorf("svcquery: query %s: %w", name, err)
			}
			if status.State == svc.Stopped {
				return nil
			}
		}
	}
}

// Definition exports the SCM configuration of a service.
func (c *Controller) Definition(ctx context.Context, name string) (Definition, error) {
	info, err := c.Status(ctx, name)
	if err != nil {
		return Definition{}, err
	}
	return Definition{
		Name:        info.Name,
		Manager:     ManagerSCM,
		DisplayName: info.DisplayName,
		BinaryPath:  info.BinaryPath,
		StartType:   info.StartType,
	}, nil
}

// Remove marks the service for deletion.
func (c *Controller) Remove(_ context.Context, name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("svcquery: connect to SCM: %w", err)
	}
	defer m.Disconnect()

	s, err := openService(m, name)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Delete(); err != nil {
		return fmt.Errorf("svcquery: delete %s: %w", name, err)
	}
	return nil
}

// Install re-creates a service from an exported definition.
func (c *Controller) Install(_ context.Context, def Definition) error {
	if def.Manager != ManagerSCM {
		return fmt.Errorf("svcquery: cannot install %s definition on the SCM", def.Manager)
	}
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("svcquery: connect to SCM: %w", err)
	}
	defer m.Disconnect()

	exe, args := splitCommandLine(def.BinaryPath)
	s, err := m.CreateService(def.Name, exe, mgr.Config{
		DisplayName: def.DisplayName,
		StartType:   unmapWindowsStartType(def.StartType),
	}, args...)
	if err != nil {
		return fmt.Errorf("svcquery: create %s: %w", def.Name, err)
	}
	return s.Close()
}

func openService(m *mgr.Mgr, name string) (*mgr.Service, error) {
	s, err := m.OpenService(name)
	if err != nil {
		if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("svcquery: open service %s: %w", name, err)
	}
	return s, nil
}

func mapWindowsState(state svc.State) ServiceStatus {
	switch state {
	case svc.Running, svc.StartPending, svc.ContinuePending:
		return StatusRunning
	case svc.Stopped, svc.Paused, svc.StopPending, svc.PausePending:
		return StatusStopped
	default:
		return StatusUnknown
	}
}

func mapWindowsStartType(startType uint32) string {
	switch startType {
	case mgr.StartAutomatic:
		return "automatic"
	case mgr.StartManual:
		return "manual"
	case mgr.StartDisabled:
		return "disabled"
	default:
		return strings.ToLower(fmt.Sprintf("type_%d", startType))
	}
}

func unmapWindowsStartType(s string) uint32 {
	switch s {
	case "automatic":
		return mgr.StartAutomatic
	case "disabled":
		return mgr.StartDisabled
	default:
		return mgr.StartManual
	}
}

// splitCommandLine separates the executable from its arguments in an SCM
// BinaryPathName, which may or may not quote the executable.
func splitCommandLine(cmdline string) (string, []string) {
	cmdline = strings.TrimSpace(cmdline)
	if strings.HasPrefix(cmdline, `"`) {
		if end := strings.Index(cmdline[1:], `"`); end >= 0 {
			exe := cmdline[1 : end+1]
			return exe, strings.Fields(cmdline[end+2:])
		}
	}
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}
