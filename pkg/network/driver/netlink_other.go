//go:build !linux

package driver

import (
	"fmt"

	"go.uber.org/zap"

	nw "github.com/glennswest/vnetmgr/pkg/network"
)

func newNetlink(log *zap.SugaredLogger) (nw.KernelDriver, error) {
	return nil, fmt.Errorf("netlink driver: %w", nw.ErrNotSupported)
}
