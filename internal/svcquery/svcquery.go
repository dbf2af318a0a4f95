package svcquery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ServiceStatus describes the run state of a system service.
type ServiceStatus string

// ServiceStatus constants.
const (
	StatusRunning  ServiceStatus = "running"
	StatusStopped  ServiceStatus = "stopped"
	StatusDisabled ServiceStatus = "disabled"
	StatusUnknown  ServiceStatus = "unknown"
)

// Service manager identifiers recorded in exported definitions.
const (
	ManagerSystemd = "systemd"
	ManagerLaunchd = "launchd"
	ManagerSCM     = "scm"
)

const defaultTimeout = 10 * time.Second

var (
	// ErrNotFound means the service manager has no such service.
	ErrNotFound = errors.New("svcquery: service not found")
	// ErrUnsupported means this OS has no service manager integration.
	ErrUnsupported = errors.New("svcquery: not implemented on this platform")
)

// ServiceInfo describes a system service.
type ServiceInfo struct {
	Name        string        `json:"name"`
	DisplayName string        `json:"displayName,omitempty"`
	Status      ServiceStatus `json:"status"`
	StartType   string        `json:"startType,omitempty"`
	BinaryPath  string        `json:"binaryPath,omitempty"`
	UnitPath    string        `json:"unitPath,omitempty"`
}

// IsActive returns true if the service is currently running.
func (s ServiceInfo) IsActive() bool {
	return s.Status == StatusRunning
}

// Definition is everything needed to re-register a removed service.
type Definition struct {
	Name        string `yaml:"name"`
	Manager     string `yaml:"manager"`
	DisplayName string `yaml:"displayName,omitempty"`
	UnitPath    string `yaml:"unitPath,omitempty"`
	BinaryPath  string `yaml:"binaryPath,omitempty"`
	StartType   string `yaml:"startType,omitempty"`
	Unit        string `yaml:"unit,omitempty"`
}

// Controller talks to the host's service manager. Home is used to find
// per-user agents (launchd LaunchAgents).
type Controller struct {
	Timeout time.Duration
	Home    string
}

// New returns a Controller with the default command timeout.
func New(home string) *Controller {
	return &Controller{Timeout: defaultTimeout, Home: home}
}

func (c *Controller) timeout() time.Duration {
	if c == nil || c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

// run executes a service manager CLI with the controller's timeout and
// returns combined output.
func (c *Controller) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return out.Bytes(), fmt.Errorf("svcquery: %s timed out after %s", name, c.timeout())
		}
		msg := strings.TrimSpace(out.String())
		if msg != "" {
			return out.Bytes(), fmt.Errorf("svcquery: %s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return out.Bytes(), fmt.Errorf("svcquery: %s %s: %w", name, strings.Join(args, " "), err)
	}
	return out.Bytes(), nil
}
