package probe

import (
	"time"

	"github.com/breeze-rmm/toolguard/internal/platform"
	"github.com/breeze-rmm/toolguard/internal/target"
)

// Built-in probe IDs, in report order.
const (
	IDExecutable = "cli-executable"
	IDStateDir   = "state-directory"
	IDConfig     = "configuration"
	IDService    = "background-service"
	IDPort       = "gateway-port"

	IDProcess     = "running-process"
	IDPathCommand = "path-command"
	IDPackage     = "global-package"
	IDContainer   = "container-artifacts"
	IDShellRef    = "shell-references"
	IDRegistry    = "registry-keys"
)

// BuiltinOptions supplies the collaborators the built-in probes need. Nil
// listers fall back to gopsutil.
type BuiltinOptions struct {
	Timeout   time.Duration
	Services  ServiceQuerier
	Processes ProcessLister
	Listeners ListenerLister
}

// Builtin returns the standard registry for a resolved target profile. Core
// probes come first in priority order. Probes with nothing to look for are
// left out.
func Builtin(t target.Resolved, opts BuiltinOptions) *Registry {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	name := t.Name
	r := NewRegistry()

	if len(t.Executables) > 0 {
		r.MustRegister(NewPath(Declaration{
			ID: IDExecutable, Description: name + " CLI executable", Category: CategoryCore,
		}, ResourceExecutable, t.Executables...))
	}
	if len(t.StateDirs) > 0 {
		r.MustRegister(NewPath(Declaration{
			ID: IDStateDir, Description: name + " state directory", Category: CategoryCore,
		}, ResourceDirectory, t.StateDirs...))
	}
	if len(t.ConfigPaths) > 0 {
		r.MustRegister(NewPath(Declaration{
			ID: IDConfig, Description: name + " configuration", Category: CategoryCore,
		}, ResourceConfig, t.ConfigPaths...))
	}
	if len(t.Services) > 0 && opts.Services != nil {
		r.MustRegister(NewService(Declaration{
			ID: IDService, Description: name + " background service", Category: CategoryCore,
		}, opts.Services, t.Services...))
	}
	if t.Port > 0 {
		r.MustRegister(NewPort(Declaration{
			ID: IDPort, Description: name + " gateway port", Category: CategoryCore,
		}, t.Port, timeout, opts.Listeners))
	}

	if len(t.ProcessNames) > 0 {
		r.MustRegister(NewProcess(Declaration{
			ID: IDProcess, Description: name + " running process", Category: CategorySupplementary,
		}, opts.Processes, t.ProcessNames...))
	}
	if t.Command != "" {
		r.MustRegister(NewCommand(Declaration{
			ID: IDPathCommand, Description: name + " command on PATH", Category: CategorySupplementary,
		}, timeout, "", t.Command, "--version"))
	}
	if len(t.Packages) > 0 {
		r.MustRegister(NewPackage(Declaration{
			ID: IDPackage, Description: name + " global package", Category: CategorySupplementary,
		}, timeout, t.Packages...))
	}
	if len(t.ContainerImages) > 0 {
		r.MustRegister(NewContainer(Declaration{
			ID: IDContainer, Description: name + " container artifacts", Category: CategorySupplementary,
		}, timeout, t.ContainerImages...))
	}
	if len(t.ShellRCFiles) > 0 && t.ShellPattern != "" {
		r.MustRegister(NewShellRef(Declaration{
			ID: IDShellRef, Description: name + " shell references", Category: CategorySupplementary,
			Platforms: platform.Unix,
		}, t.ShellPattern, t.ShellRCFiles...))
	}
	if len(t.RegistryKeys) > 0 {
		r.MustRegister(NewRegistryKey(Declaration{
			ID: IDRegistry, Description: name + " registry keys", Category: CategorySupplementary,
			Platforms: platform.Set{platform.Windows},
		}, t.RegistryKeys...))
	}
	return r
}
