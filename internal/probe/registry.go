package probe

import "fmt"

// Registry holds probes in declared priority order. Registration order is
// report order.
type Registry struct {
	probes []Probe
	ids    map[string]bool
}

// NewRegistry creates a registry containing probes in the given order.
func NewRegistry(probes ...Probe) *Registry {
	r := &Registry{ids: make(map[string]bool)}
	for _, p := range probes {
		r.MustRegister(p)
	}
	return r
}

// Register appends p. Probe IDs must be unique.
func (r *Registry) Register(p Probe) error {
	if p == nil {
		return fmt.Errorf("probe: nil probe")
	}
	if p.ID() == "" {
		return fmt.Errorf("probe: empty probe id")
	}
	if r.ids[p.ID()] {
		return fmt.Errorf("probe: duplicate probe id %q", p.ID())
	}
	r.ids[p.ID()] = true
	r.probes = append(r.probes, p)
	return nil
}

// MustRegister is Register for static probe tables.
func (r *Registry) MustRegister(p Probe) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Len returns the number of registered probes.
func (r *Registry) Len() int {
	return len(r.probes)
}

// Resolve returns the probes applicable to goos, split by category, each in
// declared order.
func (r *Registry) Resolve(goos string) (core, supplementary []Probe) {
	for _, p := range r.probes {
		if !p.Platforms().Matches(goos) {
			continue
		}
		switch p.Category() {
		case CategoryCore:
			core = append(core, p)
		default:
			supplementary = append(supplementary, p)
		}
	}
	return core, supplementary
}
