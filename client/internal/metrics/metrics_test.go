package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Download(true)
	m.Install(ResultFailure)
	m.Install(ResultSkipped)
	m.Probe(false)
	m.Probe(true)
	m.Launch(true)
	m.Initialization(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.downloads.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.installs.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.installs.WithLabelValues(ResultSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.launches.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.initializations.WithLabelValues(ResultSuccess)))
}

func TestMetrics_Disconnected(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Probe(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connected))

	m.Disconnected()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues(ResultSuccess)))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Download(true)
	m.Install(ResultSuccess)
	m.Probe(true)
	m.Launch(false)
	m.Initialization(false)
	m.Disconnected()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	m.Middleware(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMetrics_Middleware(t *testing.T) {
	m := New(prometheus.NewRegistry())

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/restart", nil))

	assert.Equal(t, 1, testutil.CollectAndCount(m.requestDuration))
}
