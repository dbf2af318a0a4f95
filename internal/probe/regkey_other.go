//go:build !windows

package probe

import (
	"context"

	"github.com/breeze-rmm/toolguard/internal/platform"
)

func (p *RegistryProbe) Execute(ctx context.Context) Outcome {
	return p.fail("open key", platform.ErrUnsupported)
}
