package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	deductions      *prometheus.CounterVec
	deductedUnits   prometheus.Counter
	receivedUnits   prometheus.Counter
}

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik stok.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retailpos_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retailpos_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	deductions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retailpos_stock_deductions_total",
		Help: "Jumlah pengurangan stok FIFO berdasarkan hasil.",
	}, []string{"outcome"})
	deducted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retailpos_stock_deducted_units_total",
		Help: "Unit yang diambil dari batch pembelian.",
	})
	received := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retailpos_stock_received_units_total",
		Help: "Unit yang masuk lewat pembelian dan stok awal.",
	})
	registry.MustRegister(requests, duration, deductions, deducted, received)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		deductions:      deductions,
		deductedUnits:   deducted,
		receivedUnits:   received,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveDeduction mencatat satu hasil pengurangan stok beserta unit yang terpakai.
func (m *Metrics) ObserveDeduction(outcome string, units int64) {
	if m == nil {
		return
	}
	m.deductions.WithLabelValues(outcome).Inc()
	if units > 0 {
		m.deductedUnits.Add(float64(units))
	}
}

// ObserveReceipt mencatat unit yang diterima.
func (m *Metrics) ObserveReceipt(units int64) {
	if m == nil || units <= 0 {
		return
	}
	m.receivedUnits.Add(float64(units))
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
