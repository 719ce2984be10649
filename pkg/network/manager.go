package network

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/glennswest/vnetmgr/pkg/configdb"
)

// Publisher is a downstream table that receives sanitized records.
type Publisher interface {
	Set(key string, fields configdb.FieldValues) error
	Del(key string) error
}

// TableReader looks up entries of a downstream table.
type TableReader interface {
	Get(key string) (configdb.FieldValues, bool)
}

// Sinks are the downstream tables the Manager talks to.
type Sinks struct {
	Routes       Publisher   // passthrough routes
	RouteTunnels Publisher   // tunnel routes, install flag stripped
	Switch       TableReader // switch-level settings (vxlan_sport)
}

// Options tunes the Manager. Zero values get defaults.
type Options struct {
	// Tables the Manager consumes, in dispatch order.
	Tables []string
	// Prefix of VXLAN device names; the VNI is appended.
	DevicePrefix string
	// UDP port used when the switch table does not set one.
	DefaultVxlanPort uint16
	// Delimiter of composite keys in downstream tables.
	AppKeyDelimiter string
	// Period of the retry pass over deferred records.
	RetryInterval time.Duration
}

func (o *Options) applyDefaults() {
	if len(o.Tables) == 0 {
		o.Tables = configdb.DefaultTables
	}
	if o.DevicePrefix == "" {
		o.DevicePrefix = "Vxlan"
	}
	if o.DefaultVxlanPort == 0 {
		o.DefaultVxlanPort = 4789
	}
	if o.AppKeyDelimiter == "" {
		o.AppKeyDelimiter = ":"
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = time.Second
	}
}

// Manager reconciles VNET, VXLAN tunnel and VNET route config tables into
// kernel VXLAN devices, VRF attachments, routes and neighbor entries, and
// publishes the resulting routes downstream.
//
// All caches are owned by the goroutine that calls DoTask (normally Run).
type Manager struct {
	opts    Options
	driver  KernelDriver
	sinks   Sinks
	log     *zap.SugaredLogger
	metrics *Metrics

	consumers map[string]*consumer
	state     *state

	inspect chan inspectRequest
}

// NewManager builds a Manager and seeds the device inventory with the VXLAN
// devices already present on the host.
func NewManager(ctx context.Context, opts Options, driver KernelDriver, sinks Sinks, metrics *Metrics, log *zap.SugaredLogger) *Manager {
	opts.applyDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	m := &Manager{
		opts:      opts,
		driver:    driver,
		sinks:     sinks,
		log:       log,
		metrics:   metrics,
		consumers: make(map[string]*consumer, len(opts.Tables)),
		state:     newState(),
		inspect:   make(chan inspectRequest),
	}
	for _, table := range opts.Tables {
		m.consumers[table] = &consumer{table: table}
	}

	// Recognize devices created before a restart
	n, err := m.state.devices.Sync(ctx, driver)
	if err != nil {
		log.Errorw("cannot list vxlan devices", "driver", driver.Name(), "error", err)
	}
	for _, dev := range m.state.devices.List() {
		log.Infow("found vxlan device", "device", dev)
	}
	log.Infow("device inventory seeded", "count", n)
	m.metrics.setRealized(0, m.state.devices.Len())

	return m
}

// deviceName maps a VNI to its VXLAN device. Routes sharing a VNI share the
// device.
func (m *Manager) deviceName(vni VNI) string {
	return m.opts.DevicePrefix + vni.String()
}

func (m *Manager) appKey(key string) string {
	return configdb.RewriteKey(key, m.opts.AppKeyDelimiter)
}

// ─── Dispatch Queue ─────────────────────────────────────────────────────────

// consumer is the pending queue of one config table.
type consumer struct {
	table  string
	toSync []configdb.Record
}

// add queues rec, folding it into what is already pending for its key:
//   - DEL drops a pending SET and replaces a pending DEL
//   - SET merges into a pending SET, or queues behind a pending DEL
func (c *consumer) add(rec configdb.Record) {
	switch rec.Op {
	case configdb.OpDel:
		kept := c.toSync[:0]
		replaced := false
		for _, p := range c.toSync {
			if p.Key != rec.Key {
				kept = append(kept, p)
				continue
			}
			if p.Op == configdb.OpDel && !replaced {
				kept = append(kept, rec)
				replaced = true
			}
		}
		c.toSync = kept
		if !replaced {
			c.toSync = append(c.toSync, rec)
		}
	case configdb.OpSet:
		for i := range c.toSync {
			if c.toSync[i].Key == rec.Key && c.toSync[i].Op == configdb.OpSet {
				c.toSync[i].Fields = c.toSync[i].Fields.Merge(rec.Fields)
				return
			}
		}
		c.toSync = append(c.toSync, rec)
	default:
		c.toSync = append(c.toSync, rec)
	}
}

func (c *consumer) remove(i int) {
	c.toSync = append(c.toSync[:i], c.toSync[i+1:]...)
}

// AddToSync queues records for dispatch. Records for tables the Manager
// does not consume are logged and dropped.
func (m *Manager) AddToSync(recs ...configdb.Record) {
	for _, rec := range recs {
		c, ok := m.consumers[rec.Table]
		if !ok {
			m.log.Errorw("unknown table", "table", rec.Table, "key", rec.Key, "record", rec.ID)
			m.metrics.observeRecord(rec.Table, string(rec.Op), Rejected)
			continue
		}
		c.add(rec)
		m.metrics.setPending(c.table, len(c.toSync))
	}
}

// DoTask runs one dispatch pass over the given tables, or over every table
// when none are given. Applied and Rejected records leave the queue;
// Deferred records stay for the next pass.
func (m *Manager) DoTask(ctx context.Context, tables ...string) {
	if len(tables) == 0 {
		tables = m.opts.Tables
	}
	for _, table := range tables {
		c, ok := m.consumers[table]
		if !ok {
			continue
		}
		m.doTableTask(ctx, c)
	}
	m.metrics.setRealized(len(m.state.kernelRoutes), m.state.devices.Len())
}

func (m *Manager) doTableTask(ctx context.Context, c *consumer) {
	log := m.log.Named("dispatcher")

	for i := 0; i < len(c.toSync); {
		rec := c.toSync[i]
		status := m.dispatch(ctx, rec)
		m.metrics.observeRecord(rec.Table, string(rec.Op), status)

		switch status {
		case Deferred:
			log.Debugw("record deferred", "table", rec.Table, "key", rec.Key, "op", rec.Op, "record", rec.ID)
			i++
		case Rejected:
			log.Errorw("record rejected", "table", rec.Table, "key", rec.Key, "op", rec.Op, "record", rec.ID)
			c.remove(i)
		default:
			c.remove(i)
		}
	}
	m.metrics.setPending(c.table, len(c.toSync))
}

func (m *Manager) dispatch(ctx context.Context, rec configdb.Record) Status {
	switch rec.Op {
	case configdb.OpSet:
		switch rec.Table {
		case configdb.VnetTable:
			return m.doVnetCreateTask(rec)
		case configdb.VxlanTunnelTable:
			return m.doVxlanTunnelCreateTask(rec)
		case configdb.VnetRouteTunnelTable:
			return m.doVnetRouteTunnelCreateTask(ctx, rec)
		case configdb.VnetRouteTable:
			return m.doVnetRouteTask(rec)
		}
	case configdb.OpDel:
		switch rec.Table {
		case configdb.VnetTable:
			return m.doVnetDeleteTask(rec)
		case configdb.VxlanTunnelTable:
			return m.doVxlanTunnelDeleteTask(rec)
		case configdb.VnetRouteTunnelTable:
			return m.doVnetRouteTunnelDeleteTask(ctx, rec)
		case configdb.VnetRouteTable:
			return m.doVnetRouteTask(rec)
		}
	default:
		m.log.Errorw("unknown command", "op", rec.Op, "table", rec.Table, "key", rec.Key)
		return Rejected
	}

	m.log.Errorw("unknown table", "table", rec.Table)
	return Rejected
}

// Pending returns the number of queued records per table.
func (m *Manager) Pending() map[string]int {
	out := make(map[string]int, len(m.consumers))
	for table, c := range m.consumers {
		out[table] = len(c.toSync)
	}
	return out
}
