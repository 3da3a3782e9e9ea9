// Package api exposes the publisher's operational HTTP surface: a
// liveness probe and a snapshot of the upload pipeline's counters.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/spool"
)

// StatsSource reports pipeline counters; *spool.Spooler implements it.
type StatsSource interface {
	Stats() spool.Stats
}

// response is the envelope every endpoint answers with.
type response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// NewRouter creates the chi router with the standard middleware stack
// and the status routes.
//
// Routes:
//   - GET /healthz - Liveness probe
//   - GET /stats   - Pipeline counter snapshot
func NewRouter(src StatsSource) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
		})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		if src == nil {
			writeJSON(w, http.StatusServiceUnavailable, response{
				Status:    "error",
				Timestamp: time.Now().UTC(),
				Error:     "pipeline not running",
			})
			return
		}
		writeJSON(w, http.StatusOK, response{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Data:      src.Stats(),
		})
	})

	// Root redirect for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/healthz", http.StatusTemporaryRedirect)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// requestLogger logs requests through the internal logger: start at
// DEBUG, completion with status and duration at INFO.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("status request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("status request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
