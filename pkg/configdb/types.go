package configdb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Config table names.
const (
	VnetTable            = "VNET"
	VxlanTunnelTable     = "VXLAN_TUNNEL"
	VnetRouteTunnelTable = "VNET_ROUTE_TUNNEL"
	VnetRouteTable       = "VNET_ROUTE"
)

// KeyDelimiter separates the parts of a composite config key, e.g.
// "Vnet_2000|100.100.1.1/32".
const KeyDelimiter = "|"

// DefaultTables is the order tables are emitted in on a full load.
var DefaultTables = []string{
	VxlanTunnelTable,
	VnetTable,
	VnetRouteTunnelTable,
	VnetRouteTable,
}

// Op is the operation carried by a record.
type Op string

const (
	OpSet Op = "SET"
	OpDel Op = "DEL"
)

// FieldValue is one attribute of a config entry.
type FieldValue struct {
	Field string `json:"field" yaml:"field"`
	Value string `json:"value" yaml:"value"`
}

// FieldValues is an ordered attribute set.
type FieldValues []FieldValue

// Get returns the value of the first occurrence of field.
func (fvs FieldValues) Get(field string) (string, bool) {
	for _, fv := range fvs {
		if fv.Field == field {
			return fv.Value, true
		}
	}
	return "", false
}

// Without returns a copy with every occurrence of field removed.
func (fvs FieldValues) Without(field string) FieldValues {
	out := make(FieldValues, 0, len(fvs))
	for _, fv := range fvs {
		if fv.Field != field {
			out = append(out, fv)
		}
	}
	return out
}

// Merge returns fvs with the values from other applied on top. Fields that
// already exist keep their position.
func (fvs FieldValues) Merge(other FieldValues) FieldValues {
	out := make(FieldValues, len(fvs), len(fvs)+len(other))
	copy(out, fvs)
	for _, fv := range other {
		replaced := false
		for i := range out {
			if out[i].Field == fv.Field {
				out[i].Value = fv.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, fv)
		}
	}
	return out
}

// Map returns the attributes as a map. Later duplicates win.
func (fvs FieldValues) Map() map[string]string {
	m := make(map[string]string, len(fvs))
	for _, fv := range fvs {
		m[fv.Field] = fv.Value
	}
	return m
}

// FromMap builds FieldValues sorted by field name.
func FromMap(m map[string]string) FieldValues {
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make(FieldValues, 0, len(fields))
	for _, f := range fields {
		out = append(out, FieldValue{Field: f, Value: m[f]})
	}
	return out
}

// Record is a single keyed change to a config table.
type Record struct {
	ID     string      `json:"id"`
	Table  string      `json:"table"`
	Key    string      `json:"key"`
	Op     Op          `json:"op"`
	Fields FieldValues `json:"fields,omitempty"`
}

// NewRecord returns a record with a fresh ID.
func NewRecord(table, key string, op Op, fields FieldValues) Record {
	return Record{
		ID:     uuid.NewString(),
		Table:  table,
		Key:    key,
		Op:     op,
		Fields: fields,
	}
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s:%s", r.Op, r.Table, r.Key)
}

// SplitKey splits a composite key at the first delimiter.
func SplitKey(key string) (head, tail string, ok bool) {
	return strings.Cut(key, KeyDelimiter)
}

// RewriteKey replaces every config delimiter in key with delim.
func RewriteKey(key, delim string) string {
	return strings.ReplaceAll(key, KeyDelimiter, delim)
}
