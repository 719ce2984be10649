package network

import (
	"context"
	"fmt"
	"time"

	"github.com/glennswest/vnetmgr/pkg/configdb"
)

type inspectRequest struct {
	fn   func()
	done chan struct{}
}

// Run owns the Manager until ctx is cancelled. Each batch read from source
// is queued and its tables dispatched immediately; every RetryInterval all
// tables get another pass so deferred records are retried. Requests from
// Inspect are served between passes.
//
// A panic inside a pass is returned as an error; the caller is expected to
// exit and rely on the startup device scan to recover.
func (m *Manager) Run(ctx context.Context, source <-chan []configdb.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch loop panic: %v", r)
		}
	}()

	m.log.Infow("vnet manager started", "retry_interval", m.opts.RetryInterval, "driver", m.driver.Name())

	ticker := time.NewTicker(m.opts.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("vnet manager stopped")
			return nil
		case batch, ok := <-source:
			if !ok {
				// keep retrying what is pending
				source = nil
				continue
			}
			m.AddToSync(batch...)
			if tables := m.batchTables(batch); len(tables) > 0 {
				m.DoTask(ctx, tables...)
			}
		case <-ticker.C:
			m.DoTask(ctx)
		case req := <-m.inspect:
			req.fn()
			close(req.done)
		}
	}
}

// Inspect runs fn on the goroutine that owns the caches. It blocks until fn
// has run or ctx is done.
func (m *Manager) Inspect(ctx context.Context, fn func()) error {
	req := inspectRequest{fn: fn, done: make(chan struct{})}
	select {
	case m.inspect <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot copies the caches through Inspect.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := m.Inspect(ctx, func() {
		snap = m.snapshot()
	})
	return snap, err
}

func (m *Manager) snapshot() Snapshot {
	snap := m.state.snapshot()
	snap.Pending = []PendingInfo{}
	for _, table := range m.opts.Tables {
		for _, rec := range m.consumers[table].toSync {
			snap.Pending = append(snap.Pending, PendingInfo{
				Table: rec.Table,
				Key:   rec.Key,
				Op:    string(rec.Op),
				ID:    rec.ID,
			})
		}
	}
	return snap
}

// batchTables returns the consumed tables present in batch, in dispatch
// order.
func (m *Manager) batchTables(batch []configdb.Record) []string {
	seen := make(map[string]bool)
	for _, rec := range batch {
		seen[rec.Table] = true
	}
	var tables []string
	for _, table := range m.opts.Tables {
		if seen[table] {
			tables = append(tables, table)
		}
	}
	return tables
}
