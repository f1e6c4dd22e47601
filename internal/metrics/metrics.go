// Package metrics exposes Prometheus instrumentation for the banking
// server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics. It registers against its own
// Registry so tests and embedded use don't collide with the global one.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	requestsTotal     *prometheus.CounterVec
	rejectionsTotal   *prometheus.CounterVec
	lockoutsTotal     prometheus.Counter
	noncesSweptTotal  prometheus.Counter
	requestDuration   prometheus.Histogram
}

// New creates and registers all metrics.
func New() *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vaultbank_connections_active",
			Help: "Number of client connections currently being served",
		}),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultbank_requests_total",
				Help: "Requests processed, by message type and response status",
			},
			[]string{"tipo", "status"},
		),
		rejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultbank_rejections_total",
				Help: "Messages rejected by the validation pipeline, by reason",
			},
			[]string{"reason"},
		),
		lockoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultbank_login_lockouts_total",
			Help: "Users locked out after repeated failed logins",
		}),
		noncesSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultbank_nonces_swept_total",
			Help: "Expired nonce records removed by the sweeper",
		}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultbank_request_duration_seconds",
			Help:    "Duration of request handling in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
	}

	c.Registry.MustRegister(
		c.connectionsActive,
		c.requestsTotal,
		c.rejectionsTotal,
		c.lockoutsTotal,
		c.noncesSweptTotal,
		c.requestDuration,
	)
	return c
}

// ConnectionOpened increments the active connection gauge.
func (c *Collector) ConnectionOpened() {
	c.connectionsActive.Inc()
}

// ConnectionClosed decrements the active connection gauge.
func (c *Collector) ConnectionClosed() {
	c.connectionsActive.Dec()
}

// Request records a completed request with its message type, response
// status, and handling duration.
func (c *Collector) Request(tipo, status string, d time.Duration) {
	c.requestsTotal.WithLabelValues(tipo, status).Inc()
	c.requestDuration.Observe(d.Seconds())
}

// Rejected records a pipeline rejection by kind.
func (c *Collector) Rejected(reason string) {
	c.rejectionsTotal.WithLabelValues(reason).Inc()
}

// Lockout records a brute-force lockout.
func (c *Collector) Lockout() {
	c.lockoutsTotal.Inc()
}

// NoncesSwept adds the number of nonce rows removed by a sweep.
func (c *Collector) NoncesSwept(n int64) {
	if n > 0 {
		c.noncesSweptTotal.Add(float64(n))
	}
}
