//go:build !windows && !darwin && !linux

package svcquery

import (
	"context"
	"fmt"
)

func (c *Controller) Status(_ context.Context, name string) (ServiceInfo, error) {
	return ServiceInfo{Name: name, Status: StatusUnknown}, ErrUnsupported
}

func (c *Controller) Stop(context.Context, string) error {
	return ErrUnsupported
}

func (c *Controller) Definition(context.Context, string) (Definition, error) {
	return Definition{}, ErrUnsupported
}

func (c *Controller) Remove(context.Context, string) error {
	return ErrUnsupported
}

func (c *Controller) Install(_ context.Context, def Definition) error {
	return fmt.Errorf("%w: install %s", ErrUnsupported, def.Name)
}
