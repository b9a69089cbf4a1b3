package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionGauge(t *testing.T) {
	m := New()
	m.SessionOpened("sse")
	m.SessionOpened("sse")
	m.SessionOpened("http")
	m.SessionClosed("sse", "disconnect")
	m.SessionClosed("http", "expired")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive.WithLabelValues("sse")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sessionsActive.WithLabelValues("http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsSwept))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened("sse")
		m.Call("ping", OutcomeOk)
		m.ToolDuration("probe", time.Second)
		m.SSEMessage()
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.Call("tools/call", OutcomeToolError)
	m.ToolDuration("probe", 200*time.Millisecond)
	m.SSEMessage()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `mjytdlp_calls_total{method="tools/call",outcome="tool_error"} 1`)
	assert.Contains(t, string(body), `mjytdlp_tool_duration_seconds_count{tool="probe"} 1`)
	assert.Contains(t, string(body), "mjytdlp_sse_messages_total 1")
}
