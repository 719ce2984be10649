package network

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "vnetmgr"

// Metrics are the Prometheus collectors updated by the Manager.
type Metrics struct {
	records       *prometheus.CounterVec
	pending       *prometheus.GaugeVec
	realized      prometheus.Gauge
	devices       prometheus.Gauge
	kernelLatency *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_total",
			Help:      "Config records processed, by table, operation and outcome.",
		}, []string{"table", "op", "status"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_records",
			Help:      "Records waiting in the dispatch queue, by table.",
		}, []string{"table"}),
		realized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "kernel_routes",
			Help:      "Routes currently realized in the kernel.",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "vxlan_devices",
			Help:      "VXLAN devices in the device inventory.",
		}),
		kernelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "kernel_op_duration_seconds",
			Help:      "Latency of kernel driver calls, by operation and error.",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op", "err"}),
	}
	if reg != nil {
		reg.MustRegister(m.records, m.pending, m.realized, m.devices, m.kernelLatency)
	}
	return m
}

func (m *Metrics) observeRecord(table, op string, status Status) {
	m.records.WithLabelValues(table, op, status.String()).Inc()
}

func (m *Metrics) setPending(table string, n int) {
	m.pending.WithLabelValues(table).Set(float64(n))
}

func (m *Metrics) setRealized(routes, devices int) {
	m.realized.Set(float64(routes))
	m.devices.Set(float64(devices))
}

func (m *Metrics) observeKernelOp(op string, start time.Time, err error) {
	m.kernelLatency.WithLabelValues(op, formatErrVal(err != nil)).Observe(time.Since(start).Seconds())
}

func formatErrVal(failed bool) string {
	if failed {
		return "T"
	}
	return "F"
}
