// Package probe defines read-only host checks and the built-in probe kinds
// toolguard uses to look for the target tool.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/breeze-rmm/toolguard/internal/logging"
	"github.com/breeze-rmm/toolguard/internal/platform"
)

var log = logging.L("probe")

// DefaultTimeout bounds every probe that shells out or touches the network.
const DefaultTimeout = 5 * time.Second

// Category says whether a probe can influence the verdict.
type Category int

const (
	// CategoryCore probes decide the verdict and confidence.
	CategoryCore Category = iota
	// CategorySupplementary probes are informational only.
	CategorySupplementary
)

func (c Category) String() string {
	switch c {
	case CategoryCore:
		return "core"
	case CategorySupplementary:
		return "supplementary"
	default:
		return "unknown"
	}
}

// MarshalText renders the category by name in JSON reports.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ResourceKind classifies something a probe located on the host.
type ResourceKind string

const (
	ResourceExecutable     ResourceKind = "executable"
	ResourceFile           ResourceKind = "file"
	ResourceDirectory      ResourceKind = "directory"
	ResourceConfig         ResourceKind = "config"
	ResourceService        ResourceKind = "service"
	ResourceProcess        ResourceKind = "process"
	ResourcePort           ResourceKind = "port"
	ResourceContainer      ResourceKind = "container"
	ResourceImage          ResourceKind = "image"
	ResourcePackage        ResourceKind = "package"
	ResourceShellReference ResourceKind = "shell_reference"
	ResourceRegistryKey    ResourceKind = "registry_key"
)

// Resource is one concrete piece of evidence: a path, a service name, an
// image ID. Remediation is planned from these.
type Resource struct {
	Kind     ResourceKind `json:"kind"`
	Location string       `json:"location"`
	// Detail carries kind-specific context: the container runtime, the
	// package manager, the pattern matched in a shell rc file.
	Detail string `json:"detail,omitempty"`
}

// Error records that a probe could not run. It is data, not a failure of the
// detection run.
type Error struct {
	ProbeID string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s: %s: %v", e.ProbeID, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Outcome is the result of one probe execution. Err set means the probe
// itself failed; Found is then false.
type Outcome struct {
	Found     bool       `json:"found"`
	Evidence  string     `json:"evidence,omitempty"`
	Resources []Resource `json:"resources,omitempty"`
	Err       *Error     `json:"error,omitempty"`
}

// Probe is a named, read-only check. Execute must be idempotent, must not
// mutate the host, and reports failures through Outcome.Err.
type Probe interface {
	ID() string
	Description() string
	Category() Category
	Platforms() platform.Set
	Execute(ctx context.Context) Outcome
}

// Declaration is the static identity of a probe.
type Declaration struct {
	ID          string
	Description string
	Category    Category
	Platforms   platform.Set
}

// base carries the declaration shared by every built-in probe.
type base struct {
	id          string
	description string
	category    Category
	platforms   platform.Set
}

func newBase(d Declaration) base {
	return base{id: d.ID, description: d.Description, category: d.Category, platforms: d.Platforms}
}

func (b base) ID() string              { return b.id }
func (b base) Description() string     { return b.description }
func (b base) Category() Category      { return b.category }
func (b base) Platforms() platform.Set { return b.platforms }

func (b base) fail(op string, err error) Outcome {
	return Outcome{Err: &Error{ProbeID: b.id, Op: op, Err: err}}
}

func (b base) found(evidence string, resources ...Resource) Outcome {
	return Outcome{Found: true, Evidence: evidence, Resources: resources}
}

// Run executes p and converts a panic into an Outcome error so one broken
// probe cannot take the run down.
func Run(ctx context.Context, p Probe) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("probe panicked", logging.KeyProbe, p.ID(), "panic", r, "stack", string(debug.Stack()))
			out = Outcome{Err: &Error{ProbeID: p.ID(), Op: "execute", Err: fmt.Errorf("panic: %v", r)}}
		}
	}()
	out = p.Execute(ctx)
	if out.Err != nil {
		out.Found = false
	}
	return out
}

// MarshalJSON keeps the wrapped error's message in JSON reports.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ProbeID string `json:"probe"`
		Op      string `json:"op"`
		Message string `json:"message"`
	}{e.ProbeID, e.Op, e.Err.Error()})
}
