// Package metrics exports device handle counters and read wait times in the
// Prometheus text format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kmodtest/kmodfcntl-go/pkg/chardev"
)

const namespace = "kmod_fcntl"

// Collector owns a registry with the counters of every handle opened with
// Handle and a histogram of blocking read wait times.
type Collector struct {
	// Handle is shared by all handles of a run; pass it to chardev.WithMetrics.
	Handle *chardev.Metrics
	// ReadWait observes how long each blocking read was suspended, in
	// seconds. It satisfies driver.Observer.
	ReadWait prometheus.Histogram

	reg *prometheus.Registry
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		Handle: &chardev.Metrics{},
		ReadWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "blocking_read_wait_seconds",
			Help:      "Time a blocking read spent waiting for the device.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 2.5, 4, 8, 16},
		}),
		reg: prometheus.NewRegistry(),
	}

	m := c.Handle
	counters := []struct {
		name, help string
		value      func() uint64
	}{
		{"opens_total", "Successful device opens.", m.OpenCount.Load},
		{"open_errors_total", "Failed device opens.", m.OpenErrCount.Load},
		{"reads_total", "Completed reads.", m.ReadCount.Load},
		{"read_bytes_total", "Bytes returned by reads.", m.ReadBytes.Load},
		{"would_block_total", "Non-blocking reads that found no data.", m.WouldBlockCount.Load},
		{"read_errors_total", "Reads that failed.", m.ReadErrCount.Load},
		{"control_commands_total", "Control commands accepted by the device.", m.ControlCount.Load},
		{"control_errors_total", "Control commands refused by the device.", m.ControlErrCount.Load},
		{"mode_switches_total", "Read mode changes written to the device.", m.ModeSwitchCount.Load},
		{"mode_errors_total", "Failed read mode changes.", m.ModeErrCount.Load},
	}
	for _, ctr := range counters {
		value := ctr.value
		c.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      ctr.name,
			Help:      ctr.help,
		}, func() float64 { return float64(value()) }))
	}

	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "inflight_reads",
		Help:      "Reads currently waiting inside the device.",
	}, func() float64 { return float64(m.InflightReads.Load()) }))
	c.reg.MustRegister(c.ReadWait)

	return c
}

// Registry returns the registry, e.g. for promhttp.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// WriteTextfile writes all metrics to path in the format the node_exporter
// textfile collector reads. The file is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.reg)
}
