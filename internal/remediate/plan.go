package remediate

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/breeze-rmm/toolguard/internal/backup"
	"github.com/breeze-rmm/toolguard/internal/probe"
)

// Phase is one state of the remediation state machine.
type Phase int

const (
	PhaseAwaitConfirmation Phase = iota
	PhaseBackup
	PhaseStopServices
	PhaseRemoveExecutables
	PhaseRemoveConfiguration
	PhaseRemoveServiceDefinitions
	PhaseRemoveDerivedArtifacts
	PhaseCleanReferences
	PhaseFinalize
)

// destructivePhases run in this order after the backup gate.
var destructivePhases = []Phase{
	PhaseStopServices,
	PhaseRemoveExecutables,
	PhaseRemoveConfiguration,
	PhaseRemoveServiceDefinitions,
	PhaseRemoveDerivedArtifacts,
	PhaseCleanReferences,
}

func (p Phase) String() string {
	switch p {
	case PhaseAwaitConfirmation:
		return "AwaitConfirmation"
	case PhaseBackup:
		return "Backup"
	case PhaseStopServices:
		return "StopServices"
	case PhaseRemoveExecutables:
		return "RemoveExecutables"
	case PhaseRemoveConfiguration:
		return "RemoveConfiguration"
	case PhaseRemoveServiceDefinitions:
		return "RemoveServiceDefinitions"
	case PhaseRemoveDerivedArtifacts:
		return "RemoveDerivedArtifacts"
	case PhaseCleanReferences:
		return "CleanReferences"
	case PhaseFinalize:
		return "Finalize"
	default:
		return "Unknown"
	}
}

// MarshalText renders the phase by name in JSON results.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Action is what a step does to its target.
type Action string

const (
	ActionStopService     Action = "stop_service"
	ActionKillProcess     Action = "kill_process"
	ActionRemovePath      Action = "remove_path"
	ActionRemoveService   Action = "remove_service"
	ActionRemoveContainer Action = "remove_container"
	ActionRemoveImage     Action = "remove_image"
	ActionUninstall       Action = "uninstall_package"
	ActionCleanShellRC    Action = "clean_shell_references"
	ActionDeleteRegistry  Action = "delete_registry_key"
)

// Step is one unit of destructive work. Steps are created by Plan and
// consumed by a single run.
type Step struct {
	Name     string         `json:"name"`
	Phase    Phase          `json:"phase"`
	Target   probe.Resource `json:"target"`
	Action   Action         `json:"action"`
	// Reversible steps act on something the backup can bring back.
	Reversible bool `json:"reversible"`
	// Removes is false for steps that only quiesce the tool, such as
	// stopping a service. Only removing steps count toward ItemsRemoved.
	Removes bool `json:"removes"`
}

// Plan turns detection evidence into ordered steps. Resources that nothing
// can act on, such as a listening port, are dropped: the port closes when
// its owning process or service goes away.
func Plan(resources []probe.Resource) []Step {
	var steps []Step
	add := func(phase Phase, r probe.Resource, action Action, reversible, removes bool, name string) {
		steps = append(steps, Step{
			Name:       name,
			Phase:      phase,
			Target:     r,
			Action:     action,
			Reversible: reversible,
			Removes:    removes,
		})
	}

	seen := make(map[probe.Resource]bool)
	for _, r := range resources {
		if seen[r] {
			continue
		}
		seen[r] = true
		switch r.Kind {
		case probe.ResourceService:
			add(PhaseStopServices, r, ActionStopService, true, false, "stop service "+r.Location)
			add(PhaseRemoveServiceDefinitions, r, ActionRemoveService, true, true, "remove service "+r.Location)
		case probe.ResourceProcess:
			add(PhaseStopServices, r, ActionKillProcess, false, false, fmt.Sprintf("terminate %s (pid %s)", r.Location, r.Detail))
		case probe.ResourceExecutable:
			add(PhaseRemoveExecutables, r, ActionRemovePath, false, true, "remove executable "+r.Location)
		case probe.ResourceDirectory, probe.ResourceConfig, probe.ResourceFile:
			add(PhaseRemoveConfiguration, r, ActionRemovePath, true, true, fmt.Sprintf("remove %s %s", r.Kind, r.Location))
		case probe.ResourceContainer:
			add(PhaseRemoveDerivedArtifacts, r, ActionRemoveContainer, false, true, fmt.Sprintf("remove %s container %s", r.Detail, r.Location))
		case probe.ResourceImage:
			add(PhaseRemoveDerivedArtifacts, r, ActionRemoveImage, false, true, fmt.Sprintf("remove %s image %s", r.Detail, r.Location))
		case probe.ResourcePackage:
			add(PhaseCleanReferences, r, ActionUninstall, false, true, fmt.Sprintf("uninstall %s package %s", r.Detail, r.Location))
		case probe.ResourceShellReference:
			add(PhaseCleanReferences, r, ActionCleanShellRC, true, true, "clean references in "+r.Location)
		case probe.ResourceRegistryKey:
			add(PhaseCleanReferences, r, ActionDeleteRegistry, true, true, "delete registry key "+r.Location)
		}
	}

	// Stable: steps keep evidence order within a phase, so containers are
	// removed before the images they run.
	slices.SortStableFunc(steps, func(a, b Step) int { return int(a.Phase) - int(b.Phase) })
	return steps
}

// BackupTargets lists what must be preserved before steps run. Executables
// are included so the manifest can record their exclusion.
func BackupTargets(resources []probe.Resource) []backup.Target {
	var out []backup.Target
	seen := make(map[backup.Target]bool)
	for _, r := range resources {
		var t backup.Target
		switch r.Kind {
		case probe.ResourceExecutable:
			t = backup.Target{Kind: backup.KindFile, Location: r.Location, Executable: true}
		case probe.ResourceDirectory:
			t = backup.Target{Kind: backup.KindDirectory, Location: r.Location}
		case probe.ResourceConfig, probe.ResourceFile, probe.ResourceShellReference:
			t = backup.Target{Kind: backup.KindFile, Location: r.Location}
		case probe.ResourceService:
			t = backup.Target{Kind: backup.KindServiceDefinition, Location: r.Location}
		case probe.ResourceRegistryKey:
			t = backup.Target{Kind: backup.KindRegistryKey, Location: r.Location}
		default:
			continue
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func pidOf(r probe.Resource) (int32, error) {
	pid, err := strconv.ParseInt(r.Detail, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("process %s has no usable pid %q", r.Location, r.Detail)
	}
	return int32(pid), nil
}
