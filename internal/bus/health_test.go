package bus

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dots-distro/dots-family-mode-sub003/pkg/logger"
)

func newTestHealthServer() *HealthServer {
	return NewHealthServer(HealthConfig{EnableHTTP: true, Addr: "127.0.0.1:0"}, logger.NewDefaultLogger("test", "error"))
}

func TestHandleLive_AlwaysReportsAlive(t *testing.T) {
	h := newTestHealthServer()
	rec := httptest.NewRecorder()
	h.handleLive(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReady_ReflectsReadyState(t *testing.T) {
	h := newTestHealthServer()

	rec := httptest.NewRecorder()
	h.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "must not be ready before SetReady(true)")

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.SetReady(false)
	rec = httptest.NewRecorder()
	h.handleReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "must flip back to unready")
}

func TestStart_NoopWhenHTTPDisabled(t *testing.T) {
	h := NewHealthServer(HealthConfig{EnableHTTP: false}, logger.NewDefaultLogger("test", "error"))
	assert.NoError(t, h.Start())
	assert.Nil(t, h.server)
	h.Stop() // must not panic with no server started
}

func TestResponseWrapper_CapturesStatusCode(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &responseWrapper{ResponseWriter: rec, statusCode: http.StatusOK}
	wrapped.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, wrapped.statusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
