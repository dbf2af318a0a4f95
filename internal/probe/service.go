package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/breeze-rmm/toolguard/internal/svcquery"
)

// ServiceQuerier looks up a service by name.
type ServiceQuerier interface {
	Status(ctx context.Context, name string) (svcquery.ServiceInfo, error)
}

// ServiceProbe matches when any named service is registered with the host's
// service manager, running or not.
type ServiceProbe struct {
	base
	names   []string
	querier ServiceQuerier
}

// NewService returns a service probe backed by querier.
func NewService(d Declaration, querier ServiceQuerier, names ...string) *ServiceProbe {
	return &ServiceProbe{base: newBase(d), names: names, querier: querier}
}

func (p *ServiceProbe) Execute(ctx context.Context) Outcome {
	var (
		hits     []Resource
		evidence []string
		errs     []error
	)
	for _, name := range p.names {
		info, err := p.querier.Status(ctx, name)
		if err != nil {
			if isAbsentService(err) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		hits = append(hits, Resource{Kind: ResourceService, Location: info.Name, Detail: string(info.Status)})
		evidence = append(evidence, fmt.Sprintf("%s (%s)", info.Name, info.Status))
	}

	if len(hits) > 0 {
		return p.found(p.description+" registered: "+strings.Join(evidence, ", "), hits...)
	}
	if len(errs) > 0 {
		return p.fail("query service", errors.Join(errs...))
	}
	return Outcome{}
}

// isAbsentService treats "no such service" and "no service manager on this
// host" alike: neither is evidence and neither is a probe failure.
func isAbsentService(err error) bool {
	return errors.Is(err, svcquery.ErrNotFound) ||
		errors.Is(err, svcquery.ErrUnsupported) ||
		errors.Is(err, exec.ErrNotFound)
}
