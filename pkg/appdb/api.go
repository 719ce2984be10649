package appdb

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/glennswest/vnetmgr/pkg/configdb"
)

// RegisterRoutes adds app db endpoints to the given mux.
//
//	GET /api/v1/appdb                    list non-empty tables
//	GET /api/v1/appdb/{table}            dump one table
//	PUT /api/v1/appdb/SWITCH_TABLE/{key} replace a switch entry
func (s *Store) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/appdb", s.handleTables)
	mux.HandleFunc("/api/v1/appdb/", s.handleTable)
}

func (s *Store) handleTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.TableNames())
}

func (s *Store) handleTable(w http.ResponseWriter, r *http.Request) {
	name, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/api/v1/appdb/"), "/")
	if name == "" || strings.Contains(key, "/") {
		http.Error(w, "table not found", http.StatusNotFound)
		return
	}

	switch {
	case r.Method == http.MethodGet && key == "":
		writeJSON(w, s.Dump(name))
	case r.Method == http.MethodPut && key != "":
		s.handleSwitchPut(w, r, name, key)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSwitchPut replaces a SWITCH_TABLE entry. The route tables are
// written by the manager only.
func (s *Store) handleSwitchPut(w http.ResponseWriter, r *http.Request, table, key string) {
	if table != SwitchTable {
		http.Error(w, "table is read-only", http.StatusForbidden)
		return
	}

	var fields map[string]string
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		http.Error(w, "invalid field map: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Table(table).Set(key, configdb.FromMap(fields)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, fields)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
