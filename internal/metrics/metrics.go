// Package metrics counts task outcomes for a run and exposes them to
// Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Processed uint64
	Failed    uint64
	Retried   uint64
}

// Collector holds the run counters. Counters only grow; all methods are
// safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	tasksProcessed prometheus.Counter
	tasksFailed    prometheus.Counter
	tasksRetried   prometheus.Counter
	attemptSeconds *prometheus.HistogramVec
	verifications  *prometheus.CounterVec

	processed atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64

	logger *zap.Logger
}

// NewCollector registers the run metrics on a fresh registry under namespace
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.tasksProcessed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_processed_total",
		Help:      "Tasks that reached a terminal status",
	})
	c.tasksFailed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_failed_total",
		Help:      "Tasks that ended failed",
	})
	c.tasksRetried = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_retried_total",
		Help:      "Attempts that failed and were retried",
	})
	c.attemptSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Duration of a single dispatch plus verification attempt",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"action"},
	)
	c.verifications = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Verification results by outcome",
		},
		[]string{"outcome"},
	)

	return c
}

// TaskProcessed counts a task that reached a terminal status
func (c *Collector) TaskProcessed() {
	c.processed.Add(1)
	c.tasksProcessed.Inc()
}

// TaskFailed counts a task that ended failed
func (c *Collector) TaskFailed() {
	c.failed.Add(1)
	c.tasksFailed.Inc()
}

// TaskRetried counts a failed attempt that will be retried
func (c *Collector) TaskRetried() {
	c.retried.Add(1)
	c.tasksRetried.Inc()
}

// ObserveAttempt records how long one attempt of action took
func (c *Collector) ObserveAttempt(action string, d time.Duration) {
	c.attemptSeconds.WithLabelValues(action).Observe(d.Seconds())
}

// RecordVerification counts a verification outcome (passed, failed,
// timeout, error, cancelled)
func (c *Collector) RecordVerification(outcome string) {
	c.verifications.WithLabelValues(outcome).Inc()
}

// Snapshot returns the current counter values
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Processed: c.processed.Load(),
		Failed:    c.failed.Load(),
		Retried:   c.retried.Load(),
	}
}

// Registry exposes the underlying registry for custom gathering
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(c.logger),
	})
}
