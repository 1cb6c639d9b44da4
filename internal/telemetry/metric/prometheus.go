package metric

import (
	"context"
	"net"
	"net/http"
)

// Server serves one Collector's Handler on its own listener, kept separate
// from the client RESP port and the cluster peer port.
type Server struct {
	httpSrv *http.Server
	ln      net.Listener
}

// NewServer binds addr immediately so callers learn about a bad address
// before the rest of the node finishes starting up.
func NewServer(addr string, c *Collector) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return &Server{httpSrv: &http.Server{Handler: mux}, ln: ln}, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Serve() error {
	err := s.httpSrv.Serve(s.ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
