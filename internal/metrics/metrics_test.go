package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/pulse/internal/realtime"
)

var _ realtime.Observer = (*Realtime)(nil)

func TestRealtime_Delivered(t *testing.T) {
	t.Parallel()
	m := New()

	m.Delivered(realtime.KindUser, 2, 1)
	m.Delivered(realtime.KindBroadcast, 3, 0)
	m.Delivered(realtime.KindUser, 1, 0)

	assert.InDelta(t, 3, testutil.ToFloat64(m.Sends.WithLabelValues(realtime.KindUser, "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Sends.WithLabelValues(realtime.KindUser, "error")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.Sends.WithLabelValues(realtime.KindBroadcast, "ok")), 0)
}

func TestRealtime_ConnectionsAndRejections(t *testing.T) {
	t.Parallel()
	m := New()

	m.ConnectionsChanged(2, 5)
	m.HandshakeRejected()
	m.HandshakeRejected()

	assert.InDelta(t, 2, testutil.ToFloat64(m.OnlineUsers), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(m.OpenConnections), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.HandshakeRejection), 0)
}

func TestRealtime_Handler_ExposesMetrics(t *testing.T) {
	t.Parallel()
	m := New()
	m.ConnectionsChanged(1, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pulse_realtime_online_users 1")
	assert.Contains(t, string(body), "pulse_realtime_open_connections 1")
}

func TestNew_IndependentRegistries(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		a, b := New(), New()
		assert.NotSame(t, a.Registry(), b.Registry())
	})
}
