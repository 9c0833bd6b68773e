package bus

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/dots-distro/dots-family-mode-sub003/pkg/logger"
)

/**
 * CONTEXT:   Loopback-only HTTP health surface, never exposed on the bus
 *            or any non-loopback interface
 * INPUT:     GET /healthz, GET /readyz from a local liveness/readiness
 *            probe (systemd, a packaging health check script)
 * OUTPUT:    /healthz: 200 whenever the server answers; /readyz: 200 from
 *            bus-name acquisition until shutdown begins, 503 otherwise
 * BUSINESS:  This is operational plumbing, not part of the bus protocol;
 *            it exists so the daemon can be supervised the same way any
 *            other long-running service is, per spec.md's ambient
 *            logging/ops requirements
 * CHANGE:    New; router/middleware shape grounded on the teacher's
 *            internal/daemon/middleware.go (responseWrapper status-code
 *            capture, structured request logging) and its gorilla/mux
 *            route registration style
 * RISK:      Low - loopback-only, read-only, no domain mutation
 */
type HealthConfig struct {
	EnableHTTP bool
	Addr       string // e.g. "127.0.0.1:8745"
}

type HealthServer struct {
	cfg    HealthConfig
	log    *logger.DefaultLogger
	ready  atomic.Bool
	server *http.Server
}

func NewHealthServer(cfg HealthConfig, log *logger.DefaultLogger) *HealthServer {
	return &HealthServer{cfg: cfg, log: log.With("health")}
}

func (h *HealthServer) SetReady(ready bool) { h.ready.Store(ready) }

func (h *HealthServer) Start() error {
	if !h.cfg.EnableHTTP {
		return nil
	}
	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.handleLive).Methods(http.MethodGet)
	router.HandleFunc("/readyz", h.handleReady).Methods(http.MethodGet)
	router.Use(h.loggingMiddleware)

	h.server = &http.Server{
		Addr:         h.cfg.Addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.log.Error("health server exited", "error", err)
		}
	}()
	return nil
}

func (h *HealthServer) Stop() {
	if h.server != nil {
		_ = h.server.Close()
	}
}

func (h *HealthServer) handleLive(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready.Load() {
		writeStatus(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

func writeStatus(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (h *HealthServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		h.log.Debug("health request", "path", r.URL.Path, "status", wrapped.statusCode, "duration_ms", time.Since(start).Milliseconds())
	})
}
