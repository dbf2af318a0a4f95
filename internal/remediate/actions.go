package remediate

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/breeze-rmm/toolguard/internal/svcquery"
)

const (
	defaultCommandTimeout = 2 * time.Minute
	terminateGrace        = 5 * time.Second
)

// Actions performs the host mutations a Step names. Every method is
// idempotent: acting on something already gone succeeds.
type Actions interface {
	StopService(ctx context.Context, name string) error
	KillProcess(ctx context.Context, pid int32) error
	RemovePath(ctx context.Context, path string) error
	RemoveService(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, runtime, id string) error
	RemoveImage(ctx context.Context, runtime, id string) error
	UninstallPackage(ctx context.Context, manager, name string) error
	CleanShellReferences(ctx context.Context, file, pattern string) error
	DeleteRegistryKey(ctx context.Context, key string) error
}

// ServiceController stops and unregisters services. *svcquery.Controller
// implements it.
type ServiceController interface {
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
}

// SystemActions mutates the real host.
type SystemActions struct {
	Services ServiceController
	// Home and any path above it are never removed.
	Home    string
	Timeout time.Duration
}

var uninstallCommands = map[string]func(name string) []string{
	"npm":  func(n string) []string { return []string{"npm", "uninstall", "-g", n} },
	"brew": func(n string) []string { return []string{"brew", "uninstall", n} },
	"pip":  func(n string) []string { return []string{"pip3", "uninstall", "-y", n} },
}

func (a *SystemActions) StopService(ctx context.Context, name string) error {
	if a.Services == nil {
		return errors.New("no service manager available")
	}
	err := a.Services.Stop(ctx, name)
	if errors.Is(err, svcquery.ErrNotFound) {
		return nil
	}
	return err
}

func (a *SystemActions) RemoveService(ctx context.Context, name string) error {
	if a.Services == nil {
		return errors.New("no service manager available")
	}
	err := a.Services.Remove(ctx, name)
	if errors.Is(err, svcquery.ErrNotFound) {
		return nil
	}
	return err
}

// KillProcess asks the process to exit and kills it if it is still running
// after a grace period.
func (a *SystemActions) KillProcess(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	if err := p.TerminateWithContext(ctx); err != nil {
		if running, _ := p.IsRunningWithContext(ctx); !running {
			return nil
		}
		log.Debug("terminate failed, killing", "pid", pid, "error", err)
		return p.KillWithContext(ctx)
	}

	deadline := time.Now().Add(terminateGrace)
	for time.Now().Before(deadline) {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	log.Warn("process ignored terminate, killing", "pid", pid)
	return p.KillWithContext(ctx)
}

func (a *SystemActions) RemovePath(_ context.Context, path string) error {
	if err := a.guardPath(path); err != nil {
		return err
	}
	if _, err := os.Lstat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return os.RemoveAll(path)
}

// guardPath refuses paths whose removal would take unrelated data with it.
func (a *SystemActions) guardPath(path string) error {
	clean := filepath.Clean(path)
	if path == "" || !filepath.IsAbs(clean) {
		return fmt.Errorf("refusing to remove non-absolute path %q", path)
	}
	if clean == filepath.VolumeName(clean)+string(filepath.Separator) {
		return fmt.Errorf("refusing to remove filesystem root %q", path)
	}
	if a.Home != "" {
		home := filepath.Clean(a.Home)
		if rel, err := filepath.Rel(clean, home); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("refusing to remove %q: it contains the home directory", path)
		}
	}
	return nil
}

func (a *SystemActions) RemoveContainer(ctx context.Context, runtime, id string) error {
	return a.run(ctx, runtime, "rm", "-f", id)
}

func (a *SystemActions) RemoveImage(ctx context.Context, runtime, id string) error {
	return a.run(ctx, runtime, "rmi", "-f", id)
}

func (a *SystemActions) UninstallPackage(ctx context.Context, manager, name string) error {
	argv, ok := uninstallCommands[manager]
	if !ok {
		return fmt.Errorf("package manager %q is not supported", manager)
	}
	cmd := argv(name)
	return a.run(ctx, cmd[0], cmd[1:]...)
}

// CleanShellReferences rewrites file without the lines containing pattern,
// compared case-insensitively. The file keeps its mode and is replaced
// atomically.
func (a *SystemActions) CleanShellReferences(_ context.Context, file, pattern string) error {
	info, err := os.Stat(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	kept, dropped := filterLines(data, pattern)
	if dropped == 0 {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(file), "."+filepath.Base(file)+".toolguard-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(kept); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		return err
	}
	log.Debug("removed shell references", "file", file, "lines", dropped)
	return nil
}

func filterLines(data []byte, pattern string) ([]byte, int) {
	needle := strings.ToLower(pattern)
	var out bytes.Buffer
	dropped := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(strings.ToLower(line), needle) {
			dropped++
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if dropped > 0 && len(data) > 0 && data[len(data)-1] != '\n' && out.Len() > 0 {
		out.Truncate(out.Len() - 1)
	}
	return out.Bytes(), dropped
}

func (a *SystemActions) DeleteRegistryKey(_ context.Context, key string) error {
	return deleteRegistryKey(key)
}

func (a *SystemActions) run(ctx context.Context, name string, args ...string) error {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%s timed out after %s", name, timeout)
		}
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return nil
}
