package network

import (
	"context"
	"errors"
	"net"
)

// ErrNotSupported is returned when a driver does not support an operation.
var ErrNotSupported = errors.New("operation not supported by this driver")

// KernelDriver is the boundary to the host networking stack. The Manager
// decides which calls to make and in which order; implementations only
// carry them out (iproute2 commands, netlink, ...).
//
// Creating an object that already exists and deleting one that is already
// gone both succeed, so a failed sequence can be replayed from the start.
type KernelDriver interface {
	// VXLAN devices
	CreateVxlan(ctx context.Context, spec VxlanSpec) error
	DeleteVxlan(ctx context.Context, name string) error
	ListVxlanDevices(ctx context.Context) ([]string, error)

	// Device placement
	AttachToVrf(ctx context.Context, dev, vrf string) error
	SetLinkUp(ctx context.Context, dev string) error

	// Forwarding state
	AddRoute(ctx context.Context, prefix *net.IPNet, dev, vrf string) error
	AddNeighbor(ctx context.Context, ip net.IP, mac net.HardwareAddr, dev string) error

	Name() string
}

// VxlanSpec describes a VXLAN device to create.
type VxlanSpec struct {
	Name   string
	MAC    net.HardwareAddr // optional
	VNI    VNI
	Local  net.IP // optional
	Remote net.IP // optional
	Port   uint16 // UDP destination port
}
