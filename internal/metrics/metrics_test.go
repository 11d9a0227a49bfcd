package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Tick()
	m.TickError()
	m.Logged(true)
	m.Absent("gps")
	m.SetState(1)
	m.SetValue("temperature", 21)
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.Tick()
	m.Tick()
	m.Logged(true)
	m.Logged(false)
	m.Absent("gps")
	m.Absent("gps")
	m.Absent("sensor")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsLogged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.absent.WithLabelValues("gps")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SetValue("temperature", 21.5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `rakelog_last_value{metric="temperature"} 21.5`))
}
