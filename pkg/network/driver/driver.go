// Package driver provides the kernel backends of the vnet manager.
package driver

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/glennswest/vnetmgr/pkg/config"
	nw "github.com/glennswest/vnetmgr/pkg/network"
)

// New returns the driver selected by cfg.
func New(cfg config.KernelConfig, log *zap.SugaredLogger) (nw.KernelDriver, error) {
	switch cfg.Driver {
	case config.DriverIPRoute, "":
		return NewIPRoute(cfg.IPBinary, nil, log), nil
	case config.DriverNetlink:
		return newNetlink(log)
	default:
		return nil, fmt.Errorf("unknown kernel driver %q", cfg.Driver)
	}
}
