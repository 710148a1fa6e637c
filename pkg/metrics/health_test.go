package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(t *testing.T) {
	t.Helper()
	registry = newHealthRegistry()
}

// markCoreReady reports every readiness-critical component healthy, the
// state cmd/qsched reaches at the end of startup.
func markCoreReady() {
	RegisterComponent("topology", true, "backend rdl-resource")
	RegisterComponent("resource", true, "")
	RegisterComponent("reactor", true, "")
}

func TestGetHealthAggregatesComponents(t *testing.T) {
	resetHealth(t)
	SetVersion("test")
	markCoreReady()

	health := GetHealth()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Len(t, health.Components, 3)
	assert.Equal(t, "healthy", health.Components["topology"])
}

func TestGetHealthOneUnhealthyComponentFlipsStatus(t *testing.T) {
	resetHealth(t)
	markCoreReady()
	UpdateComponent("reactor", false, "scheduling loop stalled")

	health := GetHealth()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unhealthy: scheduling loop stalled", health.Components["reactor"])
	assert.Equal(t, "healthy", health.Components["resource"])
}

func TestGetReadinessRequiresEveryCriticalComponent(t *testing.T) {
	cases := []struct {
		name    string
		setup   func()
		status  string
		mention string
	}{
		{
			name:   "all critical components reported",
			setup:  markCoreReady,
			status: "ready",
		},
		{
			name: "topology never registered",
			setup: func() {
				RegisterComponent("resource", true, "")
				RegisterComponent("reactor", true, "")
			},
			status:  "not_ready",
			mention: "topology",
		},
		{
			name: "resource inventory unhealthy",
			setup: func() {
				markCoreReady()
				UpdateComponent("resource", false, "inventory empty")
			},
			status:  "not_ready",
			mention: "resource",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resetHealth(t)
			tc.setup()

			readiness := GetReadiness()
			assert.Equal(t, tc.status, readiness.Status)
			if tc.mention != "" {
				assert.Contains(t, readiness.Message, tc.mention)
			}
		})
	}
}

func TestGetReadinessIgnoresNonCriticalComponents(t *testing.T) {
	resetHealth(t)
	markCoreReady()
	RegisterComponent("probe-endpoint", false, "port in use")

	readiness := GetReadiness()
	assert.Equal(t, "ready", readiness.Status, "only reactor/resource/topology gate readiness")
	assert.NotContains(t, readiness.Components, "probe-endpoint")
}

func probeGet(t *testing.T, handler http.HandlerFunc, path string) (*httptest.ResponseRecorder, HealthStatus) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w, body
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	resetHealth(t)
	markCoreReady()

	w, body := probeGet(t, HealthHandler(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body.Status)

	UpdateComponent("reactor", false, "stalled")
	w, body = probeGet(t, HealthHandler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", body.Status)
}

func TestReadyHandlerStaysRedThroughStartup(t *testing.T) {
	resetHealth(t)

	w, body := probeGet(t, ReadyHandler(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", body.Status)

	markCoreReady()
	w, body = probeGet(t, ReadyHandler(), "/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body.Status)
}

func TestLivenessHandlerAlwaysOK(t *testing.T) {
	resetHealth(t)

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
	assert.NotEmpty(t, body["uptime"])
}
