package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	assert := require.New(t)
	m := New()

	m.SessionOpened("a1")
	m.SessionOpened("a1")
	m.SessionClosed()
	m.RPCSent("reboot")
	m.EPCRequest("enqueue_rpc", "ok")
	m.FileSent(16384)

	assert.Equal(1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(2.0, testutil.ToFloat64(m.SessionsTotal.WithLabelValues("a1")))
	assert.Equal(1.0, testutil.ToFloat64(m.RPCsSent.WithLabelValues("reboot")))
	assert.Equal(16384.0, testutil.ToFloat64(m.FileBytes))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(200, rec.Code)
	assert.True(strings.Contains(rec.Body.String(), "acse_arena_live_bytes"))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SessionOpened("a1")
	m.SessionClosed()
	m.EventDropped()
	m.ConnRequest("done")
}
