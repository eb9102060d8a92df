package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestMetricsExposed(t *testing.T) {
	m, err := InitMetrics(true)
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown(context.Background()) })

	sm := m.Store("conversation")
	sm.Hit()
	sm.Hit()
	sm.Miss()
	sm.Expire()
	sm.Evict()
	m.RateLimited("general")
	m.ObserveLLM(context.Background(), "gpt-test", 150*time.Millisecond, nil)
	m.ObserveLLM(context.Background(), "gpt-test", time.Second, errors.New("boom"))

	code, body := scrape(t, m)
	assert.Equal(t, http.StatusOK, code)
	for _, name := range []string{
		"talkgate_store_hits_total",
		"talkgate_store_misses_total",
		"talkgate_store_expirations_total",
		"talkgate_store_evictions_total",
		"talkgate_rate_limited_total",
		"talkgate_llm_errors_total",
		"talkgate_llm_request_duration_seconds",
	} {
		assert.Contains(t, body, name)
	}
	assert.Contains(t, body, `store="conversation"`)
	assert.Contains(t, body, `tier="general"`)
}

func TestMetricsDisabled(t *testing.T) {
	m, err := InitMetrics(false)
	require.NoError(t, err)

	// Instruments are no-ops and must not panic.
	m.Store("x").Hit()
	m.RateLimited("user")
	m.ObserveLLM(context.Background(), "m", time.Millisecond, errors.New("x"))

	code, _ := scrape(t, m)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracerConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Tracer("test"))
}
