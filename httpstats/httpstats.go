// Package httpstats exposes the process's Prometheus registry over HTTP
// (spec §9 Design Notes "Global Statistics singleton... model as an
// explicit metrics sink"; this package is the read side, serving what
// metrics.Sink accumulates). Grounded on the teacher's stats package,
// which likewise runs a small standalone publisher alongside the core —
// but where the teacher publishes config by running a distributed
// transaction, here there is no txn engine to publish through, so this
// serves the registry directly over net/http the way a Prometheus
// exporter does.
package httpstats

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /metrics (Prometheus scrape format) and /healthz off reg.
type Server struct {
	srv    *http.Server
	logger log.Logger
}

// NewServer constructs a Server bound to addr, reading from reg.
func NewServer(addr string, reg *prometheus.Registry, logger log.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Serve listens and serves until Shutdown is called, returning
// http.ErrServerClosed in that case (matching net/http.Server.Serve's own
// contract, so callers can treat it the same way).
func (s *Server) Serve(ln net.Listener) error {
	if s.logger != nil {
		s.logger.Log("msg", "httpstats: serving", "addr", ln.Addr().String())
	}
	return s.srv.Serve(ln)
}

// Shutdown gracefully stops the server, waiting up to timeout for
// in-flight scrapes to finish.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
