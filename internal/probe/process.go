package probe

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessLister returns the names of running processes keyed by PID.
type ProcessLister func(ctx context.Context) (map[int32]string, error)

// ProcessProbe matches running processes by name, case-insensitively and
// ignoring a trailing .exe.
type ProcessProbe struct {
	base
	names []string
	list  ProcessLister
}

// NewProcess returns a process probe. A nil lister uses gopsutil.
func NewProcess(d Declaration, list ProcessLister, names ...string) *ProcessProbe {
	if list == nil {
		list = snapshotProcesses
	}
	return &ProcessProbe{base: newBase(d), names: names, list: list}
}

func (p *ProcessProbe) Execute(ctx context.Context) Outcome {
	procs, err := p.list(ctx)
	if err != nil {
		return p.fail("list processes", err)
	}

	wanted := make(map[string]bool, len(p.names))
	for _, n := range p.names {
		wanted[normalizeProcessName(n)] = true
	}

	pids := make([]int32, 0, len(procs))
	for pid := range procs {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	var hits []Resource
	var evidence []string
	for _, pid := range pids {
		name := procs[pid]
		if !wanted[normalizeProcessName(name)] {
			continue
		}
		hits = append(hits, Resource{Kind: ResourceProcess, Location: name, Detail: strconv.Itoa(int(pid))})
		evidence = append(evidence, fmt.Sprintf("%s (pid %d)", name, pid))
	}
	if len(hits) == 0 {
		return Outcome{}
	}
	return p.found(p.description+": "+strings.Join(evidence, ", "), hits...)
}

func normalizeProcessName(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".exe")
}

// snapshotProcesses takes one pass over the process table. Processes that
// exit or deny access mid-scan are skipped.
func snapshotProcesses(ctx context.Context) (map[int32]string, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	names := make(map[int32]string, len(procs))
	skipped := 0
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil || name == "" {
			skipped++
			continue
		}
		names[proc.Pid] = name
	}
	if skipped > 0 {
		log.Debug("process snapshot skipped processes", "skipped", skipped, "total", len(procs))
	}
	return names, nil
}
