package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/munin-relay/pkg/config"
	"github.com/munin-relay/pkg/poller"
)

type fakeStatus []poller.Status

func (f fakeStatus) Snapshot() []poller.Status { return f }

func newTestServer(t *testing.T, status StatusSource) *Server {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "munin_relay_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	return NewHTTPServer(cfg, zaptest.NewLogger(t), registry, status)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestEndpoints(t *testing.T) {
	srv := newTestServer(t, fakeStatus{
		{Host: "web1.example.com", DisplayName: "web1", State: "sleeping", Plugins: 2, Cycles: 3},
	})
	h := srv.Handler()

	health := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, health.Code)
	assert.Equal(t, "OK", health.Body.String())

	metrics := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "munin_relay_test_total 1")

	hosts := get(t, h, "/hosts")
	assert.Equal(t, "application/json", hosts.Header().Get("Content-Type"))
	var got []poller.Status
	require.NoError(t, json.Unmarshal(hosts.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "web1", got[0].DisplayName)
	assert.Equal(t, 3, got[0].Cycles)

	assert.Equal(t, http.StatusOK, get(t, h, "/").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/nope").Code)
}

func TestHostsWithoutSourceIsEmptyList(t *testing.T) {
	rec := get(t, newTestServer(t, nil).Handler(), "/hosts")
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestStartAndShutdown(t *testing.T) {
	srv := newTestServer(t, nil)
	require.NoError(t, srv.Start())
	require.NotNil(t, srv.Addr())

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	require.NoError(t, srv.Shutdown())
	_, err = client.Get("http://" + srv.Addr().String() + "/health")
	assert.Error(t, err)
}

func TestStartFailsOnBadAddress(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.cfg.Server.Addr = "256.0.0.1:bad"
	assert.Error(t, srv.Start())
}
