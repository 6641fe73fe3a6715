// Package metrics exports process lifecycle metrics to Prometheus.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/SanjoDeundiak/childproc/pkg/lib/process"
	"github.com/SanjoDeundiak/childproc/pkg/lib/spawn"
)

// Collector implements process.Observer and prometheus.Collector.
// Register it once and pass it to every handle with process.WithObserver.
type Collector struct {
	spawns       prometheus.Counter
	spawnErrors  *prometheus.CounterVec
	terminations *prometheus.CounterVec
	running      prometheus.Gauge
	lifetime     prometheus.Histogram
}

var _ process.Observer = (*Collector)(nil)

// NewCollector builds a Collector whose metric names start with namespace.
func NewCollector(namespace string) *Collector {
	return &Collector{
		spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_spawns_total",
			Help:      "Children spawned successfully",
		}),
		spawnErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_spawn_errors_total",
			Help:      "Failed spawn attempts by error kind",
		}, []string{"kind"}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_terminations_total",
			Help:      "Children reaped, by termination reason",
		}, []string{"reason"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_running",
			Help:      "Children spawned and not yet reaped",
		}),
		lifetime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_lifetime_seconds",
			Help:      "Time from spawn to reap",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
}

func (c *Collector) Spawned(*process.Handle) {
	c.spawns.Inc()
	c.running.Inc()
}

func (c *Collector) SpawnFailed(_ *process.Handle, err error) {
	kind := "unknown"
	var se *spawn.Error
	if errors.As(err, &se) {
		kind = se.Kind.String()
	} else if errors.Is(err, spawn.ErrConfiguration) {
		kind = spawn.KindConfiguration.String()
	}
	c.spawnErrors.WithLabelValues(kind).Inc()
}

func (c *Collector) Terminated(h *process.Handle) {
	st := h.Status()
	c.running.Dec()
	c.terminations.WithLabelValues(st.Reason.String()).Inc()
	c.lifetime.Observe(st.Uptime().Seconds())
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.spawns.Describe(ch)
	c.spawnErrors.Describe(ch)
	c.terminations.Describe(ch)
	c.running.Describe(ch)
	c.lifetime.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.spawns.Collect(ch)
	c.spawnErrors.Collect(ch)
	c.terminations.Collect(ch)
	c.running.Collect(ch)
	c.lifetime.Collect(ch)
}
