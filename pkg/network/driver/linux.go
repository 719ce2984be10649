//go:build linux

package driver

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	nw "github.com/glennswest/vnetmgr/pkg/network"
)

// Linux implements nw.KernelDriver using netlink syscalls.
type Linux struct {
	log *zap.SugaredLogger
}

// NewLinux returns a KernelDriver backed by Linux netlink.
func NewLinux(log *zap.SugaredLogger) *Linux {
	return &Linux{log: log.Named("linux-driver")}
}

func isLinkNotFound(err error) bool {
	var notFound netlink.LinkNotFoundError
	return errors.As(err, &notFound)
}

// ─── Link Operations ────────────────────────────────────────────────────────

func (d *Linux) CreateVxlan(ctx context.Context, spec nw.VxlanSpec) error {
	vxlan := &netlink.Vxlan{
		LinkAttrs: netlink.LinkAttrs{
			Name:         spec.Name,
			HardwareAddr: spec.MAC,
		},
		VxlanId: int(spec.VNI),
		SrcAddr: spec.Local,
		Group:   spec.Remote,
		Port:    int(spec.Port),
	}
	if err := netlink.LinkAdd(vxlan); err != nil {
		if errors.Is(err, unix.EEXIST) {
			d.log.Debugw("vxlan device exists", "name", spec.Name)
			return nil
		}
		return fmt.Errorf("netlink vxlan add %s: %w", spec.Name, err)
	}
	d.log.Infow("vxlan device created", "name", spec.Name, "vni", spec.VNI)
	return nil
}

func (d *Linux) DeleteVxlan(ctx context.Context, name string) error {
	link, err := netlink.LinkByName(name)
	if isLinkNotFound(err) {
		d.log.Debugw("vxlan device already gone", "name", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("netlink lookup %s: %w", name, err)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("netlink del %s: %w", name, err)
	}
	d.log.Infow("vxlan device deleted", "name", name)
	return nil
}

func (d *Linux) ListVxlanDevices(ctx context.Context) ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlink link list: %w", err)
	}
	var out []string
	for _, l := range links {
		if _, ok := l.(*netlink.Vxlan); ok {
			out = append(out, l.Attrs().Name)
		}
	}
	return out, nil
}

func (d *Linux) AttachToVrf(ctx context.Context, dev, vrf string) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("netlink lookup %s: %w", dev, err)
	}
	master, err := netlink.LinkByName(vrf)
	if err != nil {
		return fmt.Errorf("netlink lookup vrf %s: %w", vrf, err)
	}
	if err := netlink.LinkSetMaster(link, master); err != nil {
		return fmt.Errorf("netlink set master %s -> %s: %w", dev, vrf, err)
	}
	return nil
}

func (d *Linux) SetLinkUp(ctx context.Context, dev string) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("netlink lookup %s: %w", dev, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("netlink link up %s: %w", dev, err)
	}
	return nil
}

// ─── Route / Neighbor Operations ────────────────────────────────────────────

func (d *Linux) AddRoute(ctx context.Context, prefix *net.IPNet, dev, vrf string) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("netlink lookup %s: %w", dev, err)
	}
	table, err := vrfTable(vrf)
	if err != nil {
		return err
	}
	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       prefix,
		Table:     table,
	}
	if err := netlink.RouteReplace(route); err != nil {
		return fmt.Errorf("netlink route replace %s dev %s: %w", prefix, dev, err)
	}
	return nil
}

func vrfTable(name string) (int, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, fmt.Errorf("netlink lookup vrf %s: %w", name, err)
	}
	vrf, ok := link.(*netlink.Vrf)
	if !ok {
		return 0, fmt.Errorf("%s is a %s device, not a vrf", name, link.Type())
	}
	return int(vrf.Table), nil
}

func (d *Linux) AddNeighbor(ctx context.Context, ip net.IP, mac net.HardwareAddr, dev string) error {
	link, err := netlink.LinkByName(dev)
	if err != nil {
		return fmt.Errorf("netlink lookup %s: %w", dev, err)
	}
	family := netlink.FAMILY_V6
	if ip.To4() != nil {
		family = netlink.FAMILY_V4
	}
	neigh := &netlink.Neigh{
		LinkIndex:    link.Attrs().Index,
		Family:       family,
		State:        netlink.NUD_PERMANENT,
		IP:           ip,
		HardwareAddr: mac,
	}
	if err := netlink.NeighSet(neigh); err != nil {
		return fmt.Errorf("netlink neigh set %s lladdr %s dev %s: %w", ip, mac, dev, err)
	}
	return nil
}

func (d *Linux) Name() string { return "netlink" }

// Ensure Linux implements KernelDriver at compile time.
var _ nw.KernelDriver = (*Linux)(nil)

func newNetlink(log *zap.SugaredLogger) (nw.KernelDriver, error) {
	return NewLinux(log), nil
}
