package configdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Snapshot is the full content of the config tables:
// table -> key -> field -> value.
type Snapshot map[string]map[string]map[string]string

// FileSource turns a YAML snapshot file into an ordered stream of SET/DEL
// records. Every time the file changes the new snapshot is diffed against
// the previous one and only the differences are emitted.
//
// File format:
//
//	VXLAN_TUNNEL:
//	  tunnel_v4:
//	    src_ip: 10.1.0.32
//	VNET:
//	  Vnet_2000:
//	    vxlan_tunnel: tunnel_v4
//	    vni: "2000"
type FileSource struct {
	path   string
	tables []string
	log    *zap.SugaredLogger

	last Snapshot
}

// NewFileSource returns a source reading path. tables fixes the order in
// which tables are emitted; tables found in the file but not listed are
// emitted last.
func NewFileSource(path string, tables []string, log *zap.SugaredLogger) *FileSource {
	if len(tables) == 0 {
		tables = DefaultTables
	}
	return &FileSource{
		path:   path,
		tables: tables,
		log:    log.Named("configdb"),
		last:   Snapshot{},
	}
}

// Load reads and parses the snapshot file. A missing file is an empty
// snapshot.
func (s *FileSource) Load() (Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}

	snap := Snapshot{}
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parsing config snapshot %s: %w", s.path, err)
	}
	return snap, nil
}

// Sync reloads the file and returns the records needed to move from the
// previous snapshot to the current one.
func (s *FileSource) Sync() ([]Record, error) {
	snap, err := s.Load()
	if err != nil {
		return nil, err
	}
	recs := Diff(s.tables, s.last, snap)
	s.last = snap
	return recs, nil
}

// Run emits the initial snapshot and then every change until ctx is
// cancelled. Batches are sent on out in file order.
func (s *FileSource) Run(ctx context.Context, out chan<- []Record) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so that rename-over-file updates are seen.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	if err := s.emit(ctx, out); err != nil {
		return err
	}
	s.log.Infow("config source started", "path", s.path)

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := s.emit(ctx, out); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warnw("file watcher error", "error", err)
		}
	}
}

func (s *FileSource) emit(ctx context.Context, out chan<- []Record) error {
	recs, err := s.Sync()
	if err != nil {
		// keep the previous snapshot, the next write will be retried
		s.log.Warnw("failed to load config snapshot", "path", s.path, "error", err)
		return nil
	}
	if len(recs) == 0 {
		return nil
	}
	s.log.Debugw("config snapshot changed", "records", len(recs))

	select {
	case out <- recs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Diff returns the records that turn old into cur. Tables are walked in the
// given order, keys in sorted order. Within a table all SETs precede DELs.
func Diff(tables []string, old, cur Snapshot) []Record {
	var recs []Record
	for _, table := range tableOrder(tables, old, cur) {
		before, after := old[table], cur[table]

		for _, key := range sortedKeys(after) {
			fields := after[key]
			if prev, ok := before[key]; ok && equalFields(prev, fields) {
				continue
			}
			recs = append(recs, NewRecord(table, key, OpSet, FromMap(fields)))
		}
		for _, key := range sortedKeys(before) {
			if _, ok := after[key]; !ok {
				recs = append(recs, NewRecord(table, key, OpDel, nil))
			}
		}
	}
	return recs
}

func tableOrder(tables []string, snaps ...Snapshot) []string {
	known := make(map[string]bool, len(tables))
	order := make([]string, 0, len(tables))
	for _, t := range tables {
		known[t] = true
		order = append(order, t)
	}

	var extra []string
	for _, snap := range snaps {
		for t := range snap {
			if !known[t] {
				known[t] = true
				extra = append(extra, t)
			}
		}
	}
	sort.Strings(extra)
	return append(order, extra...)
}

func sortedKeys(m map[string]map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func equalFields(a, b map[string]string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
