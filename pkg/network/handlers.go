package network

import (
	"context"

	"github.com/glennswest/vnetmgr/pkg/configdb"
)

// ─── VNET ───────────────────────────────────────────────────────────────────

func (m *Manager) doVnetCreateTask(rec configdb.Record) Status {
	log := m.log.Named("vnet")

	vnet := Vnet{Name: rec.Key}
	var vniStr, macStr string
	for _, fv := range rec.Fields {
		switch fv.Field {
		case fieldVxlanTunnel:
			vnet.Tunnel = fv.Value
		case fieldVNI:
			vniStr = fv.Value
		case fieldSourceMAC:
			macStr = fv.Value
		}
	}

	// Config producers eventually write the full attribute set; wait for it.
	if vnet.Tunnel == "" || vniStr == "" {
		log.Debugw("vnet information is incomplete", "vnet", vnet.Name)
		return Deferred
	}

	vni, err := ParseVNI(vniStr)
	if err != nil {
		log.Errorw("invalid vnet vni", "vnet", vnet.Name, "error", err)
		return Rejected
	}
	vnet.VNI = vni

	mac, err := optionalMAC(macStr)
	if err != nil {
		log.Errorw("invalid vnet source mac", "vnet", vnet.Name, "error", err)
		return Rejected
	}
	if mac != nil {
		vnet.SourceMAC = mac.String()
	}

	tunnel, ok := m.state.tunnels[vnet.Tunnel]
	if !ok {
		log.Debugw("vxlan tunnel has not been created", "vnet", vnet.Name, "tunnel", vnet.Tunnel)
		return Deferred
	}
	vnet.SourceIP = tunnel.SourceIP

	if prev, ok := m.state.vnets[vnet.Name]; ok && prev.VNI != vnet.VNI {
		m.state.devices.Delete(m.deviceName(prev.VNI))
	}
	m.state.vnets[vnet.Name] = vnet
	m.state.devices.Add(m.deviceName(vnet.VNI))

	log.Infow("vnet created",
		"vnet", vnet.Name,
		"vni", vnet.VNI,
		"src_ip", vnet.SourceIP,
		"src_mac", vnet.SourceMAC,
	)
	return Applied
}

func (m *Manager) doVnetDeleteTask(rec configdb.Record) Status {
	log := m.log.Named("vnet")

	vnet, ok := m.state.vnets[rec.Key]
	if !ok {
		log.Warnw("vnet has not been created", "vnet", rec.Key)
		return Applied
	}

	// Routes realized for this vnet are left in place until they are
	// deleted themselves.
	m.state.devices.Delete(m.deviceName(vnet.VNI))
	delete(m.state.vnets, rec.Key)

	log.Infow("vnet deleted", "vnet", rec.Key)
	return Applied
}

// ─── VXLAN Tunnel ───────────────────────────────────────────────────────────

func (m *Manager) doVxlanTunnelCreateTask(rec configdb.Record) Status {
	tunnel := Tunnel{Name: rec.Key, SourceIP: nullValue}
	if ip, ok := rec.Fields.Get(fieldSourceIP); ok {
		tunnel.SourceIP = ip
	}

	m.state.tunnels[tunnel.Name] = tunnel

	m.log.Named("tunnel").Infow("vxlan tunnel created", "tunnel", tunnel.Name, "src_ip", tunnel.SourceIP)
	return Applied
}

func (m *Manager) doVxlanTunnelDeleteTask(rec configdb.Record) Status {
	log := m.log.Named("tunnel")

	if _, ok := m.state.tunnels[rec.Key]; !ok {
		log.Warnw("vxlan tunnel has not been created", "tunnel", rec.Key)
		return Applied
	}

	// Vnets already resolved against this tunnel keep their source IP.
	delete(m.state.tunnels, rec.Key)

	log.Infow("vxlan tunnel deleted", "tunnel", rec.Key)
	return Applied
}

// ─── VNET Route ─────────────────────────────────────────────────────────────

// doVnetRouteTask forwards non-tunnel routes downstream untouched.
func (m *Manager) doVnetRouteTask(rec configdb.Record) Status {
	log := m.log.Named("route")
	key := m.appKey(rec.Key)

	switch rec.Op {
	case configdb.OpSet:
		if err := m.sinks.Routes.Set(key, rec.Fields); err != nil {
			log.Errorw("failed to publish vnet route", "route", key, "error", err)
			return Deferred
		}
		log.Infow("vnet route created", "route", key)
	case configdb.OpDel:
		if err := m.sinks.Routes.Del(key); err != nil {
			log.Errorw("failed to publish vnet route delete", "route", key, "error", err)
			return Deferred
		}
		log.Infow("vnet route deleted", "route", key)
	default:
		log.Errorw("unknown command", "op", rec.Op)
		return Rejected
	}
	return Applied
}

// ─── VNET Route Tunnel ──────────────────────────────────────────────────────

func (m *Manager) doVnetRouteTunnelCreateTask(ctx context.Context, rec configdb.Record) Status {
	log := m.log.Named("route-tunnel")

	vnet, prefix, ok := configdb.SplitKey(rec.Key)
	if !ok {
		log.Errorw("malformed vnet route key", "key", rec.Key)
		return Rejected
	}

	route := RouteTunnel{
		Name:       rec.Key,
		Vnet:       vnet,
		Prefix:     prefix,
		Endpoint:   nullValue,
		MACAddress: nullValue,
		VNI:        nullValue,
	}
	for _, fv := range rec.Fields {
		switch fv.Field {
		case fieldEndpoint:
			route.Endpoint = orNull(fv.Value)
		case fieldMACAddress:
			route.MACAddress = orNull(fv.Value)
		case fieldVNI:
			route.VNI = orNull(fv.Value)
		case fieldInstallOnKernel:
			route.InstallOnKernel = fv.Value == "true"
		}
	}

	log.Infow("vxlan tunnel route",
		"vnet", route.Vnet,
		"prefix", route.Prefix,
		"dst_ip", route.Endpoint,
		"dst_mac", route.MACAddress,
		"vni", route.VNI,
		"install_on_kernel", route.InstallOnKernel,
	)

	// Intent is recorded whatever happens in the kernel.
	m.state.routes[route.Name] = route

	if route.InstallOnKernel {
		if err := m.createKernelRoute(ctx, route); err != nil {
			log.Errorw("failed to create kernel route", "route", route.Name, "error", err)
			return Deferred
		}
	} else {
		log.Debugw("install on kernel is false, removing kernel route", "route", route.Name)
		if err := m.deleteKernelRoute(ctx, route.Name); err != nil {
			log.Warnw("failed to remove kernel route", "route", route.Name, "error", err)
		}
	}

	// install_on_kernel is control-plane only
	key := m.appKey(rec.Key)
	if err := m.sinks.RouteTunnels.Set(key, rec.Fields.Without(fieldInstallOnKernel)); err != nil {
		log.Errorw("failed to publish vxlan tunnel route", "route", key, "error", err)
		return Deferred
	}

	log.Infow("vxlan tunnel route created", "route", key)
	return Applied
}

// doVnetRouteTunnelDeleteTask always completes: a teardown failure is logged
// and the realization is kept, but the delete is never retried.
func (m *Manager) doVnetRouteTunnelDeleteTask(ctx context.Context, rec configdb.Record) Status {
	log := m.log.Named("route-tunnel")

	if _, ok := m.state.routes[rec.Key]; !ok {
		log.Warnw("vxlan tunnel route has not been created", "route", rec.Key)
		return Applied
	}

	if err := m.deleteKernelRoute(ctx, rec.Key); err != nil {
		log.Errorw("failed to remove kernel route", "route", rec.Key, "error", err)
	}

	delete(m.state.routes, rec.Key)

	key := m.appKey(rec.Key)
	if err := m.sinks.RouteTunnels.Del(key); err != nil {
		log.Errorw("failed to publish vxlan tunnel route delete", "route", key, "error", err)
	}

	log.Infow("vxlan tunnel route deleted", "route", key)
	return Applied
}
