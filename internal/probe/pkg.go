package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/breeze-rmm/toolguard/internal/target"
)

// packageQuery is how one package manager answers "is name installed
// globally". A zero exit plus match in the output means installed.
type packageQuery struct {
	argv  func(name string) []string
	match func(name string) string
}

var packageQueries = map[string]packageQuery{
	"npm": {
		argv:  func(n string) []string { return []string{"npm", "ls", "-g", "--depth=0", n} },
		match: func(n string) string { return n + "@" },
	},
	"brew": {
		argv:  func(n string) []string { return []string{"brew", "list", "--versions", n} },
		match: func(n string) string { return n },
	},
	"pip": {
		argv:  func(n string) []string { return []string{"pip3", "show", n} },
		match: func(n string) string { return "Name:" },
	},
}

// PackageProbe matches global package-manager registrations.
type PackageProbe struct {
	base
	packages []target.Package
	timeout  time.Duration
}

// NewPackage returns a package probe.
func NewPackage(d Declaration, timeout time.Duration, packages ...target.Package) *PackageProbe {
	return &PackageProbe{base: newBase(d), packages: packages, timeout: timeout}
}

func (p *PackageProbe) Execute(ctx context.Context) Outcome {
	var (
		hits     []Resource
		evidence []string
	)
	for _, pkg := range p.packages {
		q, ok := packageQueries[pkg.Manager]
		if !ok {
			continue
		}
		argv := q.argv(pkg.Name)
		res := runCommand(ctx, p.timeout, argv...)
		if res.startErr != nil {
			return p.fail("exec "+argv[0], res.startErr)
		}
		if !res.ok() || !strings.Contains(string(res.output), q.match(pkg.Name)) {
			continue
		}
		hits = append(hits, Resource{Kind: ResourcePackage, Location: pkg.Name, Detail: pkg.Manager})
		evidence = append(evidence, fmt.Sprintf("%s (%s)", pkg.Name, pkg.Manager))
	}
	if len(hits) == 0 {
		return Outcome{}
	}
	return p.found(p.description+": "+strings.Join(evidence, ", "), hits...)
}
