// Package common provides shared service plumbing such as health and
// metrics HTTP servers.
package common

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthServer exposes liveness and readiness endpoints for orchestration
// platforms to probe.
type HealthServer struct {
	server *http.Server
}

// NewHealthServer constructs a health server and begins listening in the
// background. Readiness flips with the provided atomic flag.
func NewHealthServer(ready *atomic.Bool) *HealthServer {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/v1/readiness", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	hs := &HealthServer{
		server: &http.Server{
			Addr:         ":8080",
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}

	go func() { _ = hs.server.ListenAndServe() }()

	return hs
}

// Server returns the underlying HTTP server for shutdown control.
func (h *HealthServer) Server() *http.Server { return h.server }

// RunMetricsServer starts the metrics HTTP server.
func RunMetricsServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
