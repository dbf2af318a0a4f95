// Package platform identifies the host a run executes on and describes which
// hosts a probe applies to.
package platform

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// Supported operating systems, using GOOS values.
const (
	Linux   = "linux"
	Darwin  = "darwin"
	Windows = "windows"
)

// Common applicability sets.
var (
	All  = Set{Linux, Darwin, Windows}
	Unix = Set{Linux, Darwin}
)

// ErrUnsupported is returned when the host OS is not one toolguard knows how
// to inspect.
var ErrUnsupported = errors.New("unsupported platform")

// Set is the list of operating systems a probe or location applies to.
// An empty Set applies everywhere.
type Set []string

// Matches returns true if the set applies to the given GOOS value.
func (s Set) Matches(goos string) bool {
	if len(s) == 0 {
		return true
	}
	return slices.Contains(s, goos)
}

func (s Set) String() string {
	if len(s) == 0 {
		return "any"
	}
	return strings.Join(s, ",")
}

// Info describes the host.
type Info struct {
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformFamily  string `json:"platformFamily,omitempty"`
	PlatformVersion string `json:"platformVersion,omitempty"`
	KernelVersion   string `json:"kernelVersion,omitempty"`
	Arch            string `json:"arch"`
	Hostname        string `json:"hostname,omitempty"`
}

// Detector resolves host information. Tests substitute their own.
type Detector func(ctx context.Context) (Info, error)

// Detect queries the host via gopsutil. An error here means the run cannot
// reason about which probes apply and must stop.
func Detect(ctx context.Context) (Info, error) {
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("platform: host info: %w", err)
	}

	info := Info{
		OS:              hi.OS,
		Platform:        hi.Platform,
		PlatformFamily:  hi.PlatformFamily,
		PlatformVersion: hi.PlatformVersion,
		KernelVersion:   hi.KernelVersion,
		Arch:            runtime.GOARCH,
		Hostname:        hi.Hostname,
	}
	if info.OS == "" {
		info.OS = runtime.GOOS
	}
	if !All.Matches(info.OS) {
		return info, fmt.Errorf("platform: %w: %s", ErrUnsupported, info.OS)
	}
	return info, nil
}

// Static returns a Detector that always reports info.
func Static(info Info) Detector {
	return func(context.Context) (Info, error) {
		return info, nil
	}
}
