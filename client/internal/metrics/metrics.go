// Package metrics exposes Prometheus instrumentation for the helper lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Metrics is safe to use through a nil pointer, in which case nothing is recorded
type Metrics struct {
	initializations *prometheus.CounterVec
	downloads       *prometheus.CounterVec
	installs        *prometheus.CounterVec
	launches        *prometheus.CounterVec
	probes          *prometheus.CounterVec
	connected       prometheus.Gauge
	requestDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	promFactory := promauto.With(reg)
	return &Metrics{
		initializations: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "qzmanager_initializations_total",
			Help: "Total number of helper initialization runs labelled by outcome",
		}, []string{"result"}),
		downloads: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "qzmanager_downloads_total",
			Help: "Total number of helper installer downloads labelled by outcome",
		}, []string{"result"}),
		installs: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "qzmanager_install_attempts_total",
			Help: "Total number of helper install attempts labelled by outcome",
		}, []string{"result"}),
		launches: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "qzmanager_launches_total",
			Help: "Total number of helper process launches labelled by outcome",
		}, []string{"result"}),
		probes: promFactory.NewCounterVec(prometheus.CounterOpts{
			Name: "qzmanager_probes_total",
			Help: "Total number of helper connection probes labelled by outcome",
		}, []string{"result"}),
		connected: promFactory.NewGauge(prometheus.GaugeOpts{
			Name: "qzmanager_helper_connected",
			Help: "1 when the last probe reached the helper service, 0 otherwise",
		}),
		requestDuration: promFactory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qzmanager_api_request_duration_seconds",
			Help:    "Duration of control API requests",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		}, []string{"status", "method", "path"}),
	}
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

func (m *Metrics) Initialization(ok bool) {
	if m == nil {
		return
	}
	m.initializations.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Download(ok bool) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(result(ok)).Inc()
}

// Install records an install attempt. ResultSkipped marks a run blocked by the one-shot guard.
func (m *Metrics) Install(res string) {
	if m == nil {
		return
	}
	m.installs.WithLabelValues(res).Inc()
}

func (m *Metrics) Launch(ok bool) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Probe(ok bool) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(result(ok)).Inc()
	if ok {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

// Disconnected resets the connected gauge when the helper goes away without a probe noticing
func (m *Metrics) Disconnected() {
	if m == nil {
		return
	}
	m.connected.Set(0)
}

type responseInterceptor struct {
	http.ResponseWriter
	status int
}

func (w *responseInterceptor) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware observes control API request durations
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		interceptor := &responseInterceptor{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(interceptor, r)

		m.requestDuration.With(prometheus.Labels{
			"status": strconv.Itoa(interceptor.status),
			"method": r.Method,
			"path":   r.URL.Path,
		}).Observe(time.Since(start).Seconds())
	})
}
