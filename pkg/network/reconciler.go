package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ErrVnetNotFound is returned when a route references an unknown vnet.
var ErrVnetNotFound = errors.New("vnet has not been created")

// desiredKernelRoute resolves a route intent against its vnet and the switch
// settings into the realization it should have.
func (m *Manager) desiredKernelRoute(route RouteTunnel) (KernelRoute, Vnet, error) {
	vnet, ok := m.state.vnets[route.Vnet]
	if !ok {
		return KernelRoute{}, Vnet{}, fmt.Errorf("%w: %s", ErrVnetNotFound, route.Vnet)
	}

	vni, err := ParseVNI(route.VNI)
	if err != nil {
		return KernelRoute{}, vnet, fmt.Errorf("route %s: %w", route.Name, err)
	}

	return KernelRoute{
		Name:   route.Name,
		Vnet:   route.Vnet,
		Prefix: route.Prefix,
		DstMAC: route.MACAddress,
		DstIP:  route.Endpoint,
		SrcIP:  vnet.SourceIP,
		SrcMAC: vnet.SourceMAC,
		VNI:    vni,
		Device: m.deviceName(vni),
		Port:   m.vxlanSourcePort(),
	}, vnet, nil
}

// createKernelRoute realizes a route: VXLAN device, VRF attachment, link
// up, route and, for single-host prefixes, a static neighbor entry. The
// sequence stops at the first failure. Nothing is recorded unless every
// step succeeded, and objects created by earlier steps are left in place.
func (m *Manager) createKernelRoute(ctx context.Context, route RouteTunnel) error {
	log := m.log.Named("kernel")

	kr, vnet, err := m.desiredKernelRoute(route)
	if err != nil {
		return err
	}

	// The vnet's own segment already reaches this prefix.
	if kr.VNI == vnet.VNI {
		log.Debugw("skipping kernel route, route vni matches vnet vni",
			"route", route.Name, "vnet", vnet.Name, "vni", vnet.VNI)
		if _, ok := m.state.kernelRoutes[route.Name]; ok {
			if err := m.deleteKernelRoute(ctx, route.Name); err != nil {
				return fmt.Errorf("removing previous kernel route: %w", err)
			}
			// The name stays reserved for the vnet.
			m.state.devices.Add(kr.Device)
		}
		return nil
	}

	if cur, ok := m.state.kernelRoutes[route.Name]; ok {
		if cur == kr {
			log.Debugw("kernel route already realized", "route", route.Name)
			return nil
		}
		log.Infow("kernel route changed, replacing", "route", route.Name, "old_device", cur.Device, "new_device", kr.Device)
		if err := m.deleteKernelRoute(ctx, route.Name); err != nil {
			return fmt.Errorf("removing previous kernel route: %w", err)
		}
	}

	if m.state.devices.Has(kr.Device) {
		log.Infow("vxlan device already present", "device", kr.Device)
	}

	spec, err := vxlanSpec(kr)
	if err != nil {
		return err
	}
	_, prefix, err := net.ParseCIDR(kr.Prefix)
	if err != nil {
		return fmt.Errorf("invalid route prefix %q: %w", kr.Prefix, err)
	}

	steps := []struct {
		op string
		fn func() error
	}{
		{"CreateVxlan", func() error { return m.driver.CreateVxlan(ctx, spec) }},
		{"AttachToVrf", func() error { return m.driver.AttachToVrf(ctx, kr.Device, kr.Vnet) }},
		{"SetLinkUp", func() error { return m.driver.SetLinkUp(ctx, kr.Device) }},
		{"AddRoute", func() error { return m.driver.AddRoute(ctx, prefix, kr.Device, kr.Vnet) }},
		{"AddNeighbor", func() error { return m.addStaticNeighbor(ctx, kr) }},
	}
	for _, step := range steps {
		start := time.Now()
		err := step.fn()
		m.metrics.observeKernelOp(step.op, start, err)
		if err != nil {
			log.Errorw("kernel step failed", "route", kr.Name, "device", kr.Device, "op", step.op, "error", err)
			return fmt.Errorf("%s %s: %w", step.op, kr.Device, err)
		}
	}

	m.state.kernelRoutes[kr.Name] = kr
	m.state.devices.Add(kr.Device)

	log.Infow("kernel route created", "route", kr.Name, "device", kr.Device, "vni", kr.VNI, "port", kr.Port)
	return nil
}

// addStaticNeighbor pins the destination MAC for single-host prefixes.
// Other prefixes need no neighbor entry.
func (m *Manager) addStaticNeighbor(ctx context.Context, kr KernelRoute) error {
	ip, ok := singleHostAddress(kr.Prefix)
	if !ok {
		return nil
	}
	mac, err := optionalMAC(kr.DstMAC)
	if err != nil {
		return err
	}
	if mac == nil {
		return fmt.Errorf("no destination mac for host route %s", kr.Prefix)
	}
	return m.driver.AddNeighbor(ctx, ip, mac, kr.Device)
}

// deleteKernelRoute undoes a realized route by deleting its VXLAN device,
// which takes the attached route and neighbor entries with it. Other routes
// realized on the same device lose their kernel objects too, so their
// realizations are dropped and the next SET recreates them. Routes that
// were never realized need nothing.
func (m *Manager) deleteKernelRoute(ctx context.Context, name string) error {
	log := m.log.Named("kernel")

	kr, ok := m.state.kernelRoutes[name]
	if !ok {
		log.Debugw("kernel route does not exist", "route", name)
		return nil
	}

	start := time.Now()
	err := m.driver.DeleteVxlan(ctx, kr.Device)
	m.metrics.observeKernelOp("DeleteVxlan", start, err)
	if err != nil {
		return fmt.Errorf("DeleteVxlan %s: %w", kr.Device, err)
	}

	delete(m.state.kernelRoutes, name)
	for other, cur := range m.state.kernelRoutes {
		if cur.Device == kr.Device {
			delete(m.state.kernelRoutes, other)
			log.Infow("kernel route lost its device", "route", other, "device", kr.Device)
		}
	}
	m.state.devices.Delete(kr.Device)

	log.Infow("kernel route deleted", "route", name, "device", kr.Device)
	return nil
}

func vxlanSpec(kr KernelRoute) (VxlanSpec, error) {
	spec := VxlanSpec{Name: kr.Device, VNI: kr.VNI, Port: kr.Port}

	var err error
	if spec.MAC, err = optionalMAC(kr.SrcMAC); err != nil {
		return spec, err
	}
	if spec.Local, err = optionalIP(kr.SrcIP); err != nil {
		return spec, fmt.Errorf("source ip: %w", err)
	}
	if spec.Remote, err = optionalIP(kr.DstIP); err != nil {
		return spec, fmt.Errorf("endpoint: %w", err)
	}
	return spec, nil
}

// vxlanSourcePort returns the VXLAN UDP port configured on the switch, or
// the default when none is set.
func (m *Manager) vxlanSourcePort() uint16 {
	if m.sinks.Switch != nil {
		if fields, ok := m.sinks.Switch.Get(switchKey); ok {
			if v, ok := fields.Get(fieldVxlanSrcPort); ok && v != "" {
				port, err := strconv.ParseUint(v, 10, 16)
				if err == nil && port != 0 {
					m.log.Debugw("using vxlan source port", "port", port)
					return uint16(port)
				}
				m.log.Warnw("ignoring invalid vxlan source port", "value", v)
			}
		}
	}

	m.log.Debugw("using default vxlan source port", "port", m.opts.DefaultVxlanPort)
	return m.opts.DefaultVxlanPort
}
