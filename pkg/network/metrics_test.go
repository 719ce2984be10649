package network

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/glennswest/vnetmgr/pkg/appdb"
	"github.com/glennswest/vnetmgr/pkg/configdb"
)

func TestManagerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	d := newFakeDriver()
	d.fail["SetLinkUp"] = errors.New("RTNETLINK answers: Operation not permitted")
	store := appdb.NewStore("")
	mgr := NewManager(context.Background(), Options{}, d, Sinks{
		Routes:       store.Table(appdb.VnetRouteTable),
		RouteTunnels: store.Table(appdb.VnetRouteTunnelTable),
		Switch:       store.Table(appdb.SwitchTable),
	}, metrics, zap.NewNop().Sugar())

	mgr.AddToSync(
		tunnelRec("tunnel_v4", "10.1.0.32"),
		vnetRec("Vnet_2000", "tunnel_v4", "2000"),
		routeRec("Vnet_2000|10.0.0.0/24", "3000", "true"),
		set("PORT", "Ethernet0"),
	)
	mgr.DoTask(context.Background())

	if got := testutil.ToFloat64(metrics.records.WithLabelValues(configdb.VnetTable, "SET", "applied")); got != 1 {
		t.Errorf("applied vnet records = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.records.WithLabelValues(configdb.VnetRouteTunnelTable, "SET", "deferred")); got != 1 {
		t.Errorf("deferred route records = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.records.WithLabelValues("PORT", "SET", "rejected")); got != 1 {
		t.Errorf("rejected records = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.pending.WithLabelValues(configdb.VnetRouteTunnelTable)); got != 1 {
		t.Errorf("pending = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.realized); got != 0 {
		t.Errorf("kernel routes = %v, want 0", got)
	}

	// CreateVxlan, AttachToVrf ok; SetLinkUp failed
	if n := testutil.CollectAndCount(metrics.kernelLatency); n != 3 {
		t.Errorf("kernel latency series = %d, want 3", n)
	}

	delete(d.fail, "SetLinkUp")
	mgr.DoTask(context.Background())
	if got := testutil.ToFloat64(metrics.realized); got != 1 {
		t.Errorf("kernel routes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.devices); got != 2 {
		t.Errorf("vxlan devices = %v, want 2", got)
	}
}
