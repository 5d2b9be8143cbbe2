package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "peek"

// Metrics holds the collectors for one inspector instance.
type Metrics struct {
	registry *prometheus.Registry

	Captured        *prometheus.CounterVec
	CaptureDuration *prometheus.HistogramVec
	CaptureErrors   prometheus.Counter
	Evictions       prometheus.Counter
	Pending         prometheus.Gauge
	Subscribers     prometheus.Gauge
	WSMessages      *prometheus.CounterVec
	CacheOps        *prometheus.CounterVec
	Replays         *prometheus.CounterVec
	PersistFailures prometheus.Counter
}

// New creates a Metrics with its own registry. When withRuntime is true the
// Go runtime and process collectors are registered as well.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Captured: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captured_total",
			Help:      "Total number of finalised capture records",
		}, []string{"method", "status"}),
		CaptureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Duration of captured requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		CaptureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Total number of capture steps that failed",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_evictions_total",
			Help:      "Total number of records evicted from the ring buffer",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_records",
			Help:      "Number of in-flight capture records",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Number of live event-stream subscribers",
		}),
		WSMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Total number of WebSocket messages observed",
		}, []string{"direction", "kind"}),
		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_ops_total",
			Help:      "Total number of cache operations observed",
		}, []string{"op", "result"}),
		Replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_total",
			Help:      "Total number of replay attempts",
		}, []string{"outcome"}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Total number of failed background persistence calls",
		}),
	}

	m.registry.MustRegister(
		m.Captured, m.CaptureDuration, m.CaptureErrors, m.Evictions,
		m.Pending, m.Subscribers, m.WSMessages, m.CacheOps, m.Replays,
		m.PersistFailures,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCapture records a finalised capture.
func (m *Metrics) ObserveCapture(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.Captured.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.CaptureDuration.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveCaptureError counts a failed capture step.
func (m *Metrics) ObserveCaptureError() {
	if m == nil {
		return
	}
	m.CaptureErrors.Inc()
}

// ObserveEviction counts a ring-buffer eviction.
func (m *Metrics) ObserveEviction() {
	if m == nil {
		return
	}
	m.Evictions.Inc()
}

// SetPending sets the in-flight gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}

// SetSubscribers sets the subscriber gauge.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

// ObserveWSMessage counts a WebSocket message.
func (m *Metrics) ObserveWSMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, kind).Inc()
}

// ObserveCacheOp counts a cache operation. result is hit, miss, ok or error.
func (m *Metrics) ObserveCacheOp(op, result string) {
	if m == nil {
		return
	}
	m.CacheOps.WithLabelValues(op, result).Inc()
}

// ObserveReplay counts a replay attempt by outcome.
func (m *Metrics) ObserveReplay(outcome string) {
	if m == nil {
		return
	}
	m.Replays.WithLabelValues(outcome).Inc()
}

// ObservePersistFailure counts a failed persistence call.
func (m *Metrics) ObservePersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}
