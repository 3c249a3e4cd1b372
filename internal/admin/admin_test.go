package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	nullLog "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabian4/devproxy/internal/config"
	"github.com/fabian4/devproxy/internal/metrics"
	"github.com/fabian4/devproxy/internal/router"
)

func newAdmin(t *testing.T) (http.Handler, *metrics.Registry) {
	t.Helper()
	rt, err := router.New(config.Default().Routes)
	require.NoError(t, err)
	m := metrics.NewRegistry()
	logger, _ := nullLog.NewNullLogger()
	return NewRouter(rt, m, logger), m
}

func TestHealthz(t *testing.T) {
	h, _ := newAdmin(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
}

func TestRoutes(t *testing.T) {
	h, _ := newAdmin(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/routes", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var got []RouteInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, RouteInfo{Name: "api", Prefix: "/api/", Upstream: "app", Target: "http://127.0.0.1:8000", Methods: []string{"GET", "HEAD", "POST"}}, got[0])
	assert.Equal(t, "/oauth/", got[1].Prefix)
	assert.Equal(t, "http://127.0.0.1:1234", got[2].Target)
}

func TestMetrics(t *testing.T) {
	h, m := newAdmin(t)
	m.IncRequest("app", "api", "GET", "200")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `devproxy_requests_total{method="GET",route="api",service="app",status="200"} 1`))
}

func TestUnknownPath(t *testing.T) {
	h, _ := newAdmin(t)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
