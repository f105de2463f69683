package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/drand/drand/v2/common/log"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a registry on /metrics.
type Server struct {
	srv  *http.Server
	addr net.Addr
	done chan struct{}
}

// NewRegistry returns a registry holding the client collectors and the
// process and Go runtime ones.
func NewRegistry() (*prometheus.Registry, error) {
	r := prometheus.NewRegistry()
	if err := r.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := r.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	if err := RegisterClientMetrics(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Start serves g on addr until Shutdown is called.
func Start(l log.Logger, addr string, g prometheus.Gatherer) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	s := &Server{
		srv:  &http.Server{Handler: r, ReadHeaderTimeout: 3 * time.Second},
		addr: lis.Addr(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Warnw("", "metrics", "server stopped", "err", err)
		}
	}()
	l.Infow("", "metrics", "serving", "addr", s.addr.String())
	return s, nil
}

// Addr is the address the server listens on.
func (s *Server) Addr() string {
	return s.addr.String()
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
