package cluster

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/yndnr/tokmesh-go/internal/resp"
)

// PeerServer accepts the direct RESP connections other nodes use for the
// data-plane CLUSTER verbs (§4.5): MEET, MIGRATE, RESTORE, UPDATE, PUBLISH,
// FORGET. It is the peer-port twin of redisserver.Server, stripped of the
// client-facing concerns (SUBSCRIBE state, MOVED/ASK redirection) that don't
// apply to node-to-node traffic.
type PeerServer struct {
	ln      net.Listener
	manager *Manager
	logger  *slog.Logger

	idleTimeout time.Duration
}

func NewPeerServer(addr string, manager *Manager, logger *slog.Logger) (*PeerServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PeerServer{ln: ln, manager: manager, logger: logger, idleTimeout: 2 * time.Minute}, nil
}

func (s *PeerServer) Addr() string { return s.ln.Addr().String() }

// Serve accepts connections until Shutdown closes the listener.
func (s *PeerServer) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *PeerServer) Shutdown() error {
	return s.ln.Close()
}

func (s *PeerServer) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		args, err := resp.ReadCommand(r)
		if err != nil {
			return
		}
		if len(args) == 0 {
			continue
		}
		reply := s.dispatch(args)
		if err := resp.Encode(w, reply); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (s *PeerServer) dispatch(args [][]byte) resp.Value {
	name := upperASCIIPeer(string(args[0]))
	if name != "CLUSTER" {
		return resp.Errorf("ERR unknown peer command '%s'", name)
	}
	return s.manager.HandleClusterCommand(args[1:])
}

func upperASCIIPeer(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
