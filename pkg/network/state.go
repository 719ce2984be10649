package network

import "sort"

// state holds every cache owned by the Manager. It is only touched from the
// goroutine running the dispatch loop.
type state struct {
	// declared intent
	tunnels map[string]Tunnel      // tunnel name -> tunnel
	vnets   map[string]Vnet        // vnet name -> vnet
	routes  map[string]RouteTunnel // "<vnet>|<prefix>" -> route intent

	// realized kernel state
	kernelRoutes map[string]KernelRoute // "<vnet>|<prefix>" -> realization
	devices      *Inventory
}

func newState() *state {
	return &state{
		tunnels:      make(map[string]Tunnel),
		vnets:        make(map[string]Vnet),
		routes:       make(map[string]RouteTunnel),
		kernelRoutes: make(map[string]KernelRoute),
		devices:      NewInventory(),
	}
}

// Snapshot is a point-in-time copy of the Manager's caches.
type Snapshot struct {
	Tunnels      []Tunnel      `json:"tunnels"`
	Vnets        []Vnet        `json:"vnets"`
	Routes       []RouteTunnel `json:"routes"`
	KernelRoutes []KernelRoute `json:"kernelRoutes"`
	Devices      []string      `json:"devices"`
	Pending      []PendingInfo `json:"pending"`
}

// PendingInfo describes a record waiting in a dispatch queue.
type PendingInfo struct {
	Table string `json:"table"`
	Key   string `json:"key"`
	Op    string `json:"op"`
	ID    string `json:"id"`
}

func (s *state) snapshot() Snapshot {
	snap := Snapshot{
		Tunnels:      make([]Tunnel, 0, len(s.tunnels)),
		Vnets:        make([]Vnet, 0, len(s.vnets)),
		Routes:       make([]RouteTunnel, 0, len(s.routes)),
		KernelRoutes: make([]KernelRoute, 0, len(s.kernelRoutes)),
		Devices:      s.devices.List(),
	}
	for _, name := range sortedKeys(s.tunnels) {
		snap.Tunnels = append(snap.Tunnels, s.tunnels[name])
	}
	for _, name := range sortedKeys(s.vnets) {
		snap.Vnets = append(snap.Vnets, s.vnets[name])
	}
	for _, name := range sortedKeys(s.routes) {
		snap.Routes = append(snap.Routes, s.routes[name])
	}
	for _, name := range sortedKeys(s.kernelRoutes) {
		snap.KernelRoutes = append(snap.KernelRoutes, s.kernelRoutes[name])
	}
	return snap
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
