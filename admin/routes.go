// Package admin serves the relay's operator HTTP endpoints.
package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cyberinferno/chatrelay/metrics"
	"github.com/cyberinferno/chatrelay/tcpserver"
)

// StatsSource reports the relay's current state.
type StatsSource interface {
	Stats() tcpserver.Stats
}

// NewRouter builds the admin routes:
//
//	GET /healthz  server stats as JSON, 503 while the server is stopped
//	GET /users    logged in names in login order
//	GET /metrics  prometheus exposition
func NewRouter(src StatsSource, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz(src))
	r.Get("/users", Users(src))
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
