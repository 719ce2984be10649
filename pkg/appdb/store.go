package appdb

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/glennswest/vnetmgr/pkg/configdb"
)

// App table names.
const (
	VnetRouteTable       = "VNET_ROUTE_TABLE"
	VnetRouteTunnelTable = "VNET_ROUTE_TUNNEL_TABLE"
	SwitchTable          = "SWITCH_TABLE"
)

// DefaultKeyDelimiter joins composite keys in app tables.
const DefaultKeyDelimiter = ":"

// Store is the downstream key/value state consumed by other programs. It
// holds named tables of key -> field -> value and, when a path is set, is
// saved to a YAML file after every change.
type Store struct {
	mu     sync.RWMutex
	path   string
	tables map[string]map[string]map[string]string
}

// NewStore returns an empty store persisted at path ("" disables
// persistence).
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		tables: make(map[string]map[string]map[string]string),
	}
}

// Load reads the persisted store. A missing file is not an error.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	tables := make(map[string]map[string]map[string]string)
	if err := yaml.Unmarshal(raw, &tables); err != nil {
		return fmt.Errorf("parsing app db: %w", err)
	}

	s.mu.Lock()
	s.tables = tables
	s.mu.Unlock()
	return nil
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	raw, err := yaml.Marshal(s.tables)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling app db: %w", err)
	}

	if err := os.WriteFile(s.path, raw, 0644); err != nil {
		return fmt.Errorf("writing app db to %s: %w", s.path, err)
	}
	return nil
}

// Table returns a handle on the named table.
func (s *Store) Table(name string) *Table {
	return &Table{store: s, name: name}
}

// TableNames returns the names of all non-empty tables.
func (s *Store) TableNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tables))
	for name, entries := range s.tables {
		if len(entries) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Dump returns a copy of one table.
func (s *Store) Dump(table string) map[string]map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]string, len(s.tables[table]))
	for key, fields := range s.tables[table] {
		cp := make(map[string]string, len(fields))
		for f, v := range fields {
			cp[f] = v
		}
		out[key] = cp
	}
	return out
}

// Table is a view over one named table of a Store.
type Table struct {
	store *Store
	name  string
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Set replaces the entry at key.
func (t *Table) Set(key string, fields configdb.FieldValues) error {
	t.store.mu.Lock()
	entries, ok := t.store.tables[t.name]
	if !ok {
		entries = make(map[string]map[string]string)
		t.store.tables[t.name] = entries
	}
	entries[key] = fields.Map()
	t.store.mu.Unlock()

	return t.store.save()
}

// Del removes the entry at key. Removing an absent key is a no-op.
func (t *Table) Del(key string) error {
	t.store.mu.Lock()
	entries, ok := t.store.tables[t.name]
	if !ok {
		t.store.mu.Unlock()
		return nil
	}
	if _, ok := entries[key]; !ok {
		t.store.mu.Unlock()
		return nil
	}
	delete(entries, key)
	t.store.mu.Unlock()

	return t.store.save()
}

// Get returns the entry at key with fields sorted by name.
func (t *Table) Get(key string) (configdb.FieldValues, bool) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	fields, ok := t.store.tables[t.name][key]
	if !ok {
		return nil, false
	}
	return configdb.FromMap(fields), true
}

// Keys returns the sorted keys of the table.
func (t *Table) Keys() []string {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	keys := make([]string, 0, len(t.store.tables[t.name]))
	for k := range t.store.tables[t.name] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
