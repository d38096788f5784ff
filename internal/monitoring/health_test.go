package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/lewisedginton/mesh_llm_relay/internal/meshtastic"
	"github.com/lewisedginton/mesh_llm_relay/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRadio struct {
	readyErr error
	node     meshtastic.NodeNum
}

func (f *fakeRadio) Ready() error                  { return f.readyErr }
func (f *fakeRadio) MyNodeNum() meshtastic.NodeNum { return f.node }
func (f *fakeRadio) Transport() string             { return "tcp:meshtastic.local:4403" }

type fakeInference struct {
	err error
}

func (f *fakeInference) HealthCheck(context.Context) error { return f.err }
func (f *fakeInference) Model() string                     { return "llama2" }

type readyFunc func() error

func (f readyFunc) Ready() error { return f() }

func newTestRouter(cfg Config) http.Handler {
	cfg.FailureThreshold = 1
	r := chi.NewRouter()
	NewHealthMonitor(cfg).RegisterRoutes(r)
	return r
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	h := newTestRouter(Config{Radio: &fakeRadio{readyErr: meshtastic.ErrNotConnected}})

	rec := get(t, h, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Contains(t, resp.Checks, "process")
}

func TestReadiness(t *testing.T) {
	testCases := []struct {
		name       string
		radio      *fakeRadio
		inference  *fakeInference
		relayErr   error
		wantCode   int
		wantFailed string
	}{
		{
			name:      "all ready",
			radio:     &fakeRadio{node: 0xdeadbeef},
			inference: &fakeInference{},
			wantCode:  http.StatusOK,
		},
		{
			name:       "radio down",
			radio:      &fakeRadio{readyErr: meshtastic.ErrClosed},
			inference:  &fakeInference{},
			wantCode:   http.StatusServiceUnavailable,
			wantFailed: "radio",
		},
		{
			name:       "ollama unreachable",
			radio:      &fakeRadio{},
			inference:  &fakeInference{err: errors.New("connection refused")},
			wantCode:   http.StatusServiceUnavailable,
			wantFailed: "ollama",
		},
		{
			name:       "connector not started",
			radio:      &fakeRadio{},
			inference:  &fakeInference{},
			relayErr:   errors.New("mesh connector not started"),
			wantCode:   http.StatusServiceUnavailable,
			wantFailed: "mesh_connector",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(Config{
				Radio:     tc.radio,
				Inference: tc.inference,
				Relay:     readyFunc(func() error { return tc.relayErr }),
			})

			rec := get(t, h, "/health/ready")
			assert.Equal(t, tc.wantCode, rec.Code)

			var resp health.Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Len(t, resp.Checks, 3)
			if tc.wantFailed != "" {
				assert.Equal(t, "error", resp.Checks[tc.wantFailed].Status)
			}
		})
	}
}

func TestHealthCombined(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := newTestRouter(Config{Version: "1.2.3", Radio: &fakeRadio{}, Inference: &fakeInference{}})

		rec := get(t, h, "/health")
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp CombinedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, statusHealthy, resp.Status)
		assert.Equal(t, statusHealthy, resp.Liveness.Status)
		assert.Equal(t, statusReady, resp.Readiness.Status)
		assert.Equal(t, "1.2.3", resp.Version)
	})

	t.Run("not ready", func(t *testing.T) {
		h := newTestRouter(Config{Radio: &fakeRadio{readyErr: meshtastic.ErrNotConnected}})

		rec := get(t, h, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var resp CombinedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, statusUnhealthy, resp.Status)
		assert.Equal(t, statusHealthy, resp.Liveness.Status)
		assert.Equal(t, statusNotReady, resp.Readiness.Status)
		assert.Contains(t, resp.Readiness.Checks["radio"].Error, "radio not connected")
	})
}

func TestStatus(t *testing.T) {
	h := newTestRouter(Config{
		ServiceName: "mesh-llm-relay",
		Version:     "dev",
		Radio:       &fakeRadio{node: 0xa1b2c3d4},
		Inference:   &fakeInference{},
	})

	rec := get(t, h, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "mesh-llm-relay", resp.Service)
	assert.Equal(t, "!a1b2c3d4", resp.Node)
	assert.Equal(t, "tcp:meshtastic.local:4403", resp.Transport)
	assert.Equal(t, "llama2", resp.Model)
	assert.True(t, resp.Connected)
}

func TestStatusWithoutRadio(t *testing.T) {
	rec := get(t, newTestRouter(Config{ServiceName: "mesh-llm-relay"}), "/api/status")

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Connected)
	assert.Empty(t, resp.Node)
}
