// Package metrics exports worker.Observer notifications as Prometheus
// collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ib-77/procworker/pkg/worker"
)

const namespace = "procworker"

// Collector implements worker.Observer. The worker label is the name given
// with worker.WithName, so keep names to a bounded set.
type Collector struct {
	requests *prometheus.CounterVec
	inFlight *prometheus.GaugeVec
	latency  *prometheus.HistogramVec
	kills    *prometheus.CounterVec
}

var _ worker.Observer = (*Collector)(nil)

func NewCollector() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Run calls by final outcome.",
		}, []string{"worker", "outcome"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Run calls waiting for a response.",
		}, []string{"worker"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from send to outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"worker", "outcome"}),
		kills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kills_total",
			Help:      "Kill calls.",
		}, []string{"worker"}),
	}
}

// Register adds the collectors to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.requests, c.inFlight, c.latency, c.kills} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) RequestStarted(name string) {
	c.inFlight.WithLabelValues(name).Inc()
}

func (c *Collector) RequestFinished(name string, outcome worker.Outcome, elapsed time.Duration) {
	label := outcome.String()
	c.inFlight.WithLabelValues(name).Dec()
	c.requests.WithLabelValues(name, label).Inc()
	c.latency.WithLabelValues(name, label).Observe(elapsed.Seconds())
}

func (c *Collector) Killed(name string) {
	c.kills.WithLabelValues(name).Inc()
}
