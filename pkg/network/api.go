package network

import (
	"encoding/json"
	"net/http"
)

// RegisterRoutes adds read-only engine endpoints to the given mux.
//
//	GET /api/v1/tunnels        declared VXLAN tunnels
//	GET /api/v1/vnets          resolved vnets
//	GET /api/v1/routes         declared tunnel routes
//	GET /api/v1/kernel-routes  routes realized in the kernel
//	GET /api/v1/devices        VXLAN device inventory
//	GET /api/v1/pending        records waiting for retry
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/tunnels", m.snapshotHandler(func(s Snapshot) interface{} { return s.Tunnels }))
	mux.HandleFunc("/api/v1/vnets", m.snapshotHandler(func(s Snapshot) interface{} { return s.Vnets }))
	mux.HandleFunc("/api/v1/routes", m.snapshotHandler(func(s Snapshot) interface{} { return s.Routes }))
	mux.HandleFunc("/api/v1/kernel-routes", m.snapshotHandler(func(s Snapshot) interface{} { return s.KernelRoutes }))
	mux.HandleFunc("/api/v1/devices", m.snapshotHandler(func(s Snapshot) interface{} { return s.Devices }))
	mux.HandleFunc("/api/v1/pending", m.snapshotHandler(func(s Snapshot) interface{} { return s.Pending }))
}

func (m *Manager) snapshotHandler(pick func(Snapshot) interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		snap, err := m.Snapshot(r.Context())
		if err != nil {
			http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, pick(snap))
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
