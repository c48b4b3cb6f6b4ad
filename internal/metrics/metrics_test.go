package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/geolocator/internal/geo"
)

func TestObserve(t *testing.T) {
	m := NewForTesting()

	m.ObserveFix(geo.Coordinates{Accuracy: 5})
	m.ObserveFix(geo.Coordinates{Accuracy: 40})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FixesReceived))

	m.ObserveStatus(geo.ErrUnavailable)
	m.ObserveStatus(geo.ErrUnavailable)
	m.ObserveStatus(nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StatusErrors.WithLabelValues("unavailable")))

	m.ObserveRequest(nil)
	m.ObserveRequest(geo.ErrAccessDenied)
	m.ObserveRequest(errors.New("context canceled"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionRequests.WithLabelValues("access_denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionRequests.WithLabelValues("unknown")))
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestHandler(t *testing.T) {
	m := NewForTesting()
	m.StreamClients.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "geolocd_stream_clients 3")
	assert.Contains(t, rec.Body.String(), "geolocd_fixes_received_total 0")
}
