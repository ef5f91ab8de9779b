package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Collector holds the Prometheus metrics for backend traffic.
type Collector struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ScanEvents      *prometheus.CounterVec
}

// NewCollector creates a Collector with all metrics registered on registry.
func NewCollector(registry prometheus.Registerer) *Collector {
	factory := promauto.With(registry)

	return &Collector{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopassist_backend_requests_total",
				Help: "Total number of backend requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopassist_backend_request_duration_seconds",
				Help:    "Backend request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15.0},
			},
			[]string{"method", "route"},
		),
		ScanEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopassist_scan_events_total",
				Help: "Barcode events by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Recorder feeds request observations to Prometheus and, when a Store is
// configured, to the SQLite request log.
type Recorder struct {
	collector *Collector
	store     *Store
	logger    *logrus.Logger
}

// NewRecorder wires a Recorder. store may be nil.
func NewRecorder(collector *Collector, store *Store, logger *logrus.Logger) *Recorder {
	return &Recorder{collector: collector, store: store, logger: logger}
}

// ObserveRequest records one completed backend request. status is 0 when the
// request never got a response.
func (r *Recorder) ObserveRequest(method, route string, status int, latency time.Duration) {
	if r == nil {
		return
	}
	if r.collector != nil {
		r.collector.Requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		r.collector.RequestDuration.WithLabelValues(method, route).Observe(latency.Seconds())
	}
	if r.store != nil {
		err := r.store.Record(context.Background(), RequestMetric{
			Method:     method,
			Route:      route,
			StatusCode: status,
			LatencyMS:  latency.Milliseconds(),
		})
		if err != nil {
			r.logger.WithError(err).Warn("Failed to record request metric")
		}
	}
}

// ObserveScan counts a barcode event outcome (accepted, dropped, found, not_found, failed).
func (r *Recorder) ObserveScan(outcome string) {
	if r == nil || r.collector == nil {
		return
	}
	r.collector.ScanEvents.WithLabelValues(outcome).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
