package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tabledep"

// PrometheusCounter wraps prometheus.Counter.
type PrometheusCounter struct {
	counter prometheus.Counter
}

// NewPrometheusCounter creates a new Prometheus counter with the given name and help text.
func NewPrometheusCounter(subsystem, name, help string) *PrometheusCounter {
	return &PrometheusCounter{
		counter: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}),
	}
}

func (c *PrometheusCounter) Inc() {
	c.counter.Inc()
}

func (c *PrometheusCounter) Add(n uint64) {
	c.counter.Add(float64(n))
}

// PrometheusGauge wraps prometheus.Gauge.
type PrometheusGauge struct {
	gauge prometheus.Gauge
}

// NewPrometheusGauge creates a new Prometheus gauge with the given name and help text.
func NewPrometheusGauge(subsystem, name, help string) *PrometheusGauge {
	return &PrometheusGauge{
		gauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}),
	}
}

func (g *PrometheusGauge) Set(v int64) {
	g.gauge.Set(float64(v))
}

func (g *PrometheusGauge) Inc() { g.gauge.Inc() }
func (g *PrometheusGauge) Dec() { g.gauge.Dec() }

// PrometheusHistogram wraps prometheus.Histogram.
type PrometheusHistogram struct {
	histogram prometheus.Histogram
}

// NewPrometheusHistogram creates a new Prometheus histogram with the given buckets.
func NewPrometheusHistogram(subsystem, name, help string, buckets []float64) *PrometheusHistogram {
	return &PrometheusHistogram{
		histogram: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		}),
	}
}

func (h *PrometheusHistogram) Observe(value uint64) {
	h.histogram.Observe(float64(value))
}

// Metrics is a centralized registry of all engine metrics.
type Metrics struct {
	// Listen loop
	ChangesDispatched   *PrometheusCounter
	DispatchLatency     *PrometheusHistogram
	DecodeErrors        *PrometheusCounter
	TransportErrors     *PrometheusCounter
	WaitTimeouts        *PrometheusCounter
	WatchdogExpirations *PrometheusCounter

	// Dispatch
	SubscriberFailures *PrometheusCounter

	// Lifecycle
	StatusTransitions  *PrometheusCounter
	ActiveDependencies *PrometheusGauge
	OrphansDropped     *PrometheusCounter

	// Bus bridge
	BridgePublished *PrometheusCounter
	BridgeFailures  *PrometheusCounter
}

// NewMetrics registers every metric with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ChangesDispatched: NewPrometheusCounter("listen", "changes_dispatched_total",
			"Total number of change events handed to subscribers"),
		DispatchLatency: NewPrometheusHistogram("listen", "dispatch_latency_microseconds",
			"Time from notification receipt to the end of dispatch in microseconds",
			[]float64{50, 100, 500, 1000, 5000, 10000, 50000}),
		DecodeErrors: NewPrometheusCounter("listen", "decode_errors_total",
			"Total number of notification payloads that failed to decode"),
		TransportErrors: NewPrometheusCounter("listen", "transport_errors_total",
			"Total number of errors returned by the notification transport"),
		WaitTimeouts: NewPrometheusCounter("listen", "wait_timeouts_total",
			"Total number of bounded waits that expired without a notification"),
		WatchdogExpirations: NewPrometheusCounter("listen", "watchdog_expirations_total",
			"Total number of waits abandoned by the watchdog"),

		SubscriberFailures: NewPrometheusCounter("dispatch", "subscriber_failures_total",
			"Total number of subscriber callbacks that returned an error or panicked"),

		StatusTransitions: NewPrometheusCounter("lifecycle", "status_transitions_total",
			"Total number of dependency status transitions"),
		ActiveDependencies: NewPrometheusGauge("lifecycle", "active_dependencies",
			"Number of dependencies currently listening"),
		OrphansDropped: NewPrometheusCounter("lifecycle", "orphans_dropped_total",
			"Total number of orphaned server-side object sets dropped"),

		BridgePublished: NewPrometheusCounter("bridge", "published_total",
			"Total number of change envelopes published to JetStream"),
		BridgeFailures: NewPrometheusCounter("bridge", "failures_total",
			"Total number of change envelopes that could not be published"),
	}
}

// Global metrics instance
var GlobalMetrics = NewMetrics()
