// Package metrics holds the Prometheus instruments exported by geolocd.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaunagostinho/geolocator/internal/geo"
)

const namespace = "geolocd"

// Metrics holds the counters, gauges and histograms for the daemon.
type Metrics struct {
	gatherer prometheus.Gatherer

	FixesReceived    prometheus.Counter
	FixAccuracy      prometheus.Histogram
	StatusErrors     *prometheus.CounterVec // labels: kind={access_denied,unavailable,unknown}
	PositionRequests *prometheus.CounterVec // labels: result={ok,access_denied,unavailable,unknown}
	StreamClients    prometheus.Gauge
	TripMeters       prometheus.Gauge
	Watching         prometheus.Gauge
}

// New creates the metrics and registers them with reg, defaulting to the
// global registry when nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		gatherer: gatherer,
		FixesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixes_received_total",
			Help:      "Total position fixes delivered by the watch.",
		}),
		FixAccuracy: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fix_accuracy_meters",
			Help:      "Horizontal accuracy radius of delivered fixes.",
			Buckets:   []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
		}),
		StatusErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_errors_total",
			Help:      "Watch status callbacks by error kind.",
		}, []string{"kind"}),
		PositionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_requests_total",
			Help:      "One-shot position requests by result.",
		}, []string{"result"}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected websocket clients.",
		}),
		TripMeters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trip_meters",
			Help:      "Distance travelled since the watch started.",
		}),
		Watching: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watching",
			Help:      "1 while a position watch is active, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		m.FixesReceived,
		m.FixAccuracy,
		m.StatusErrors,
		m.PositionRequests,
		m.StreamClients,
		m.TripMeters,
		m.Watching,
	)
	return m
}

// NewForTesting creates Metrics on a fresh registry to avoid "already
// registered" panics across tests.
func NewForTesting() *Metrics {
	return New(prometheus.NewRegistry())
}

// ObserveFix records one delivered fix.
func (m *Metrics) ObserveFix(c geo.Coordinates) {
	m.FixesReceived.Inc()
	m.FixAccuracy.Observe(c.Accuracy)
}

// ObserveStatus records one status callback.
func (m *Metrics) ObserveStatus(err error) {
	if kind := geo.Kind(err); kind != "" {
		m.StatusErrors.WithLabelValues(kind).Inc()
	}
}

// ObserveRequest records the outcome of a one-shot position request.
func (m *Metrics) ObserveRequest(err error) {
	result := "ok"
	if err != nil {
		result = geo.Kind(err)
		if result == "" {
			result = "unknown"
		}
	}
	m.PositionRequests.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
