// Package target describes the unauthorized tool toolguard looks for: where
// it installs, what it registers with the OS, and what it leaves behind.
package target

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/breeze-rmm/toolguard/internal/platform"
)

// Location is a path or name that only exists on some operating systems.
type Location struct {
	Path string   `mapstructure:"path" json:"path" yaml:"path"`
	OS   []string `mapstructure:"os" json:"os,omitempty" yaml:"os,omitempty"`
}

// Package is an entry in a package manager's global install list.
type Package struct {
	Manager string `mapstructure:"manager" json:"manager" yaml:"manager"` // npm, brew, pip
	Name    string `mapstructure:"name" json:"name" yaml:"name"`
}

// Profile is the full description of the target tool.
type Profile struct {
	Name            string     `mapstructure:"name" json:"name"`
	Command         string     `mapstructure:"command" json:"command"`
	Executables     []Location `mapstructure:"executables" json:"executables"`
	StateDirs       []Location `mapstructure:"state_dirs" json:"stateDirs"`
	ConfigPaths     []Location `mapstructure:"config_paths" json:"configPaths"`
	Services        []Location `mapstructure:"services" json:"services"`
	ProcessNames    []string   `mapstructure:"process_names" json:"processNames"`
	Port            int        `mapstructure:"port" json:"port"`
	ContainerImages []string   `mapstructure:"container_images" json:"containerImages"`
	Packages        []Package  `mapstructure:"packages" json:"packages"`
	ShellRCFiles    []string   `mapstructure:"shell_rc_files" json:"shellRcFiles"`
	ShellPattern    string     `mapstructure:"shell_pattern" json:"shellPattern"`
	RegistryKeys    []string   `mapstructure:"registry_keys" json:"registryKeys"`
}

// Resolved is a Profile narrowed to one host, with home-relative and
// environment references expanded.
type Resolved struct {
	Name            string
	Command         string
	OS              string
	Home            string
	Executables     []string
	StateDirs       []string
	ConfigPaths     []string
	Services        []string
	ProcessNames    []string
	Port            int
	ContainerImages []string
	Packages        []Package
	ShellRCFiles    []string
	ShellPattern    string
	RegistryKeys    []string
}

// Validate reports profile entries that would make probes meaningless.
func (p Profile) Validate() []error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if p.Port < 0 || p.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", p.Port))
	}
	for _, group := range [][]Location{p.Executables, p.StateDirs, p.ConfigPaths} {
		for _, loc := range group {
			if !isAnchored(loc.Path) {
				errs = append(errs, fmt.Errorf("path %q must be absolute, ~-relative or start with an environment variable", loc.Path))
			}
		}
	}
	for _, rc := range p.ShellRCFiles {
		if !isAnchored(rc) {
			errs = append(errs, fmt.Errorf("shell rc file %q must be absolute or ~-relative", rc))
		}
	}
	if len(p.ShellRCFiles) > 0 && strings.TrimSpace(p.ShellPattern) == "" {
		errs = append(errs, errors.New("shell_pattern is required when shell_rc_files is set"))
	}
	for _, pkg := range p.Packages {
		if _, ok := packageManagers[pkg.Manager]; !ok {
			errs = append(errs, fmt.Errorf("package manager %q is not supported", pkg.Manager))
		}
	}
	return errs
}

// Resolve narrows the profile to goos and expands ~ against home.
func (p Profile) Resolve(goos, home string) Resolved {
	r := Resolved{
		Name:            p.Name,
		Command:         p.Command,
		OS:              goos,
		Home:            home,
		Executables:     pick(p.Executables, goos, home),
		StateDirs:       pick(p.StateDirs, goos, home),
		ConfigPaths:     pick(p.ConfigPaths, goos, home),
		Services:        pick(p.Services, goos, ""),
		ProcessNames:    p.ProcessNames,
		Port:            p.Port,
		ContainerImages: p.ContainerImages,
		ShellPattern:    p.ShellPattern,
	}
	for _, pkg := range p.Packages {
		if packageManagers[pkg.Manager].Matches(goos) {
			r.Packages = append(r.Packages, pkg)
		}
	}
	if platform.Unix.Matches(goos) {
		for _, rc := range p.ShellRCFiles {
			r.ShellRCFiles = append(r.ShellRCFiles, Expand(rc, home))
		}
	}
	if goos == platform.Windows {
		r.RegistryKeys = p.RegistryKeys
	}
	return r
}

// Expand replaces a leading ~ with home and expands $VAR / ${VAR}.
func Expand(path, home string) string {
	if path == "~" {
		path = home
	} else if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		path = filepath.Join(home, path[2:])
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// ResolveHome returns the home directory of the operator. Under sudo that is
// the invoking user's home, not root's, since the tool installs per-user.
func ResolveHome() (string, error) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" && sudoUser != "root" {
		u, err := user.Lookup(sudoUser)
		if err == nil && u.HomeDir != "" {
			return u.HomeDir, nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("target: resolve home directory: %w", err)
	}
	return home, nil
}

func pick(locs []Location, goos, home string) []string {
	var out []string
	for _, loc := range locs {
		if !platform.Set(loc.OS).Matches(goos) {
			continue
		}
		if home != "" {
			out = append(out, Expand(loc.Path, home))
		} else {
			out = append(out, loc.Path)
		}
	}
	return out
}

func isAnchored(p string) bool {
	return strings.HasPrefix(p, "~") || strings.HasPrefix(p, "$") ||
		filepath.IsAbs(p) || strings.HasPrefix(p, "/") || (len(p) > 2 && p[1] == ':')
}

var packageManagers = map[string]platform.Set{
	"npm":  platform.All,
	"brew": {platform.Darwin, platform.Linux},
	"pip":  platform.All,
}
