package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-notify-engine/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the engine.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestDuration   *prometheus.HistogramVec
	requestTotal      *prometheus.CounterVec
	deriveDuration    *prometheus.HistogramVec
	sweepRemoved      *prometheus.CounterVec
	sweepDuration     prometheus.Histogram
	malformedRecords  *prometheus.CounterVec
	changeSignals     *prometheus.CounterVec
	readMarks         *prometheus.CounterVec
	storeUnavailables prometheus.Counter

	derivationCount uint64
	sweepCount      uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	deriveDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notify_derivation_duration_seconds",
		Help:    "Duration of derived view computation",
		Buckets: prometheus.DefBuckets,
	}, []string{"role"})

	sweepRemoved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_sweep_removed_total",
		Help: "Records deleted by the integrity sweeper",
	}, []string{"collection", "reason"})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "notify_sweep_duration_seconds",
		Help:    "Duration of integrity sweeps",
		Buckets: prometheus.DefBuckets,
	})

	malformedRecords := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_malformed_records_total",
		Help: "Stored records skipped by the normalizer",
	}, []string{"collection"})

	changeSignals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_change_signals_total",
		Help: "Change signals dispatched to subscribers",
	}, []string{"collection", "origin"})

	readMarks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_read_marks_total",
		Help: "Records newly marked as read",
	}, []string{"collection"})

	storeUnavailables := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notify_store_unavailable_total",
		Help: "Operations aborted because the record store was unreachable",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, deriveDuration, sweepRemoved, sweepDuration, malformedRecords, changeSignals, readMarks, storeUnavailables, goroutines)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		deriveDuration:    deriveDuration,
		sweepRemoved:      sweepRemoved,
		sweepDuration:     sweepDuration,
		malformedRecords:  malformedRecords,
		changeSignals:     changeSignals,
		readMarks:         readMarks,
		storeUnavailables: storeUnavailables,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveDerivation records one derived view computation.
func (m *MetricsService) ObserveDerivation(role models.UserRole, duration time.Duration) {
	if m == nil {
		return
	}
	m.deriveDuration.WithLabelValues(string(role)).Observe(duration.Seconds())
	atomic.AddUint64(&m.derivationCount, 1)
}

// ObserveSweep records the tallies of a completed sweep.
func (m *MetricsService) ObserveSweep(report *models.SweepReport) {
	if m == nil || report == nil {
		return
	}
	for collection, byReason := range report.Removed {
		for reason, n := range byReason {
			m.sweepRemoved.WithLabelValues(string(collection), string(reason)).Add(float64(n))
		}
	}
	m.sweepDuration.Observe(report.Duration.Seconds())
	atomic.AddUint64(&m.sweepCount, 1)
}

// RecordMalformed counts a record skipped while reading a collection.
func (m *MetricsService) RecordMalformed(collection string) {
	if m == nil {
		return
	}
	m.malformedRecords.WithLabelValues(collection).Inc()
}

// RecordChangeSignal counts a dispatched change signal.
func (m *MetricsService) RecordChangeSignal(signal models.ChangeSignal) {
	if m == nil {
		return
	}
	origin := "local"
	if signal.Remote {
		origin = "remote"
	}
	m.changeSignals.WithLabelValues(string(signal.Collection), origin).Inc()
}

// RecordReadMarks counts records newly added to a read set.
func (m *MetricsService) RecordReadMarks(collection models.Collection, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.readMarks.WithLabelValues(string(collection)).Add(float64(n))
}

// RecordStoreUnavailable counts an aborted operation.
func (m *MetricsService) RecordStoreUnavailable() {
	if m == nil {
		return
	}
	m.storeUnavailables.Inc()
}

// Counts returns how many derivations and sweeps have completed.
func (m *MetricsService) Counts() (derivations, sweeps uint64) {
	if m == nil {
		return 0, 0
	}
	return atomic.LoadUint64(&m.derivationCount), atomic.LoadUint64(&m.sweepCount)
}
