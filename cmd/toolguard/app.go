package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/breeze-rmm/toolguard/internal/backup"
	"github.com/breeze-rmm/toolguard/internal/backup/providers"
	"github.com/breeze-rmm/toolguard/internal/detect"
	"github.com/breeze-rmm/toolguard/internal/logging"
	"github.com/breeze-rmm/toolguard/internal/platform"
	"github.com/breeze-rmm/toolguard/internal/probe"
	"github.com/breeze-rmm/toolguard/internal/svcquery"
	"github.com/breeze-rmm/toolguard/internal/target"
)

// host bundles what every command resolves about the machine once.
type host struct {
	home     string
	services *svcquery.Controller
}

func newHost() (*host, error) {
	home, err := target.ResolveHome()
	if err != nil {
		return nil, err
	}
	return &host{home: home, services: svcquery.New(home)}, nil
}

// detector builds the detection orchestrator over the configured profile.
func (h *host) detector(parallel int) *detect.Orchestrator {
	build := func(info platform.Info) (*probe.Registry, error) {
		resolved := cfg.Target.Resolve(info.OS, h.home)
		log.Debug("target resolved", "name", resolved.Name, "os", resolved.OS, "home", resolved.Home)
		return probe.Builtin(resolved, probe.BuiltinOptions{
			Timeout:  time.Duration(cfg.ProbeTimeoutSeconds) * time.Second,
			Services: h.services,
		}), nil
	}
	return detect.New(build, detect.Options{Parallel: parallel})
}

// offloadProvider returns nil when no offload is configured. A provider that
// cannot be built only costs the off-host copy.
func offloadProvider() (providers.BackupProvider, string) {
	if !cfg.Offload.Enabled() {
		return nil, ""
	}
	p, err := providers.New(cfg.Offload)
	if err != nil {
		log.Warn("backup offload disabled", "provider", cfg.Offload.Provider, logging.KeyError, err)
		return nil, ""
	}
	prefix := strings.Trim(cfg.Offload.Prefix, "/")
	if prefix == "" {
		prefix, _ = os.Hostname()
	}
	return p, prefix
}

func (h *host) backupManager() *backup.Manager {
	provider, prefix := offloadProvider()
	return backup.NewManager(backup.Options{
		Services:      h.services,
		Provider:      provider,
		OffloadPrefix: prefix,
	})
}

func runDetection(ctx context.Context, h *host, parallel int) (*detect.Report, error) {
	report, err := h.detector(parallel).Run(ctx)
	if err != nil {
		log.Error("detection could not start", logging.KeyError, err)
	}
	return report, err
}
