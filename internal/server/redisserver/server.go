// Package redisserver implements the client-facing listener §4 and §5
// describe: a RESP server that executes String/List/Set commands against
// the local storage engine, participates in pub/sub, and applies the
// cluster's MOVED/ASK/CROSSSLOT routing rules before a command reaches the
// keyspace.
package redisserver

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/tokmesh-go/internal/cluster"
	"github.com/yndnr/tokmesh-go/internal/pubsub"
	"github.com/yndnr/tokmesh-go/internal/resp"
	"github.com/yndnr/tokmesh-go/internal/storage"
	"github.com/yndnr/tokmesh-go/internal/telemetry/metric"
)

// Config holds the client listener's tunables.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration // per-command timeout once a request has started
	WriteTimeout time.Duration
	IdleTimeout  time.Duration // timeout waiting for the next command

	// OutputBufferLimit caps how many undelivered pub/sub messages a
	// connection's outbox queue may hold before it is forcibly
	// disconnected, per §4.6's "Failure" policy (the spec's
	// client-output-buffer-limit, modeled here as a message count rather
	// than a byte size).
	OutputBufferLimit int
}

func DefaultConfig(addr string) Config {
	return Config{
		Addr:              addr,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       5 * time.Minute,
		OutputBufferLimit: 1024,
	}
}

// Server is the client-facing RESP listener.
type Server struct {
	cfg     Config
	engine  *storage.Engine
	broker  *pubsub.Broker
	cluster *cluster.Manager
	metrics *metric.Collector
	logger  *slog.Logger

	ln      net.Listener
	wg      sync.WaitGroup
	running atomic.Bool

	nextConnID atomic.Uint64
	connCount  atomic.Int64
}

func New(cfg Config, engine *storage.Engine, broker *pubsub.Broker, clusterMgr *cluster.Manager, metrics *metric.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, engine: engine, broker: broker, cluster: clusterMgr, metrics: metrics, logger: logger}
}

// conn is one client connection: the RESP transport plus pub/sub state.
type conn struct {
	id      uint64
	nc      net.Conn
	br      *bufio.Reader
	writeMu sync.Mutex
	bw      *bufio.Writer

	subMu         sync.Mutex
	subscriptions map[string]struct{}

	// outbox decouples the broker's fan-out goroutine from this
	// connection's socket: DeliverMessage enqueues and returns
	// immediately rather than blocking on a slow reader's write, per §9's
	// "decouples publisher latency from slow consumers". A drain
	// goroutine started in serve() empties it onto the wire.
	outbox   chan outboxMsg
	done     chan struct{}
	closeErr sync.Once
}

type outboxMsg struct {
	channel string
	payload []byte
}

func (c *conn) ID() uint64 { return c.id }

var errOutputBufferExceeded = errors.New("redisserver: client output buffer limit exceeded")

// DeliverMessage implements pubsub.Subscriber, invoked from the broker's
// fan-out goroutine. It never blocks: a full outbox means this connection
// isn't draining fast enough, so it is forcibly disconnected per §4.6's
// "Failure" policy instead of stalling every other subscriber's delivery.
func (c *conn) DeliverMessage(channel string, payload []byte) error {
	select {
	case c.outbox <- outboxMsg{channel: channel, payload: payload}:
		return nil
	default:
		c.closeErr.Do(func() { c.nc.Close() })
		return errOutputBufferExceeded
	}
}

// drainOutbox is the per-connection writer goroutine for pub/sub
// deliveries; it serializes with the command-response writer via writeMu.
func (c *conn) drainOutbox() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.outbox:
			c.writeMu.Lock()
			err := pubsub.EncodeMessage(c.bw, msg.channel, msg.payload)
			if err == nil {
				err = c.bw.Flush()
			}
			c.writeMu.Unlock()
			if err != nil {
				c.closeErr.Do(func() { c.nc.Close() })
				return
			}
		}
	}
}

func (c *conn) subscribedCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subscriptions)
}

func (c *conn) addSubscription(channel string) int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]struct{})
	}
	c.subscriptions[channel] = struct{}{}
	return len(c.subscriptions)
}

func (c *conn) removeSubscription(channel string) int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	delete(c.subscriptions, channel)
	return len(c.subscriptions)
}

func (c *conn) channels() []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]string, 0, len(c.subscriptions))
	for ch := range c.subscriptions {
		out = append(out, ch)
	}
	return out
}

// Bind opens cfg.Addr's listening socket without accepting connections yet,
// so a caller can surface a bind failure (§6 exit code 3) before committing
// to the blocking accept loop Serve runs.
func (s *Server) Bind() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the listener's bound address, valid after Bind.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// ListenAndServe binds cfg.Addr (if Bind wasn't already called) and accepts
// connections until Shutdown.
func (s *Server) ListenAndServe() error {
	if s.ln == nil {
		if err := s.Bind(); err != nil {
			return err
		}
	}
	s.running.Store(true)
	s.logger.Info("redis server listening", "addr", s.cfg.Addr)

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(nc)
		}()
	}
}

func (s *Server) Shutdown() error {
	s.running.Store(false)
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) serve(nc net.Conn) {
	c := &conn{
		id:     s.nextConnID.Add(1),
		nc:     nc,
		br:     bufio.NewReader(nc),
		bw:     bufio.NewWriter(nc),
		outbox: make(chan outboxMsg, s.outputBufferLimit()),
		done:   make(chan struct{}),
	}
	go c.drainOutbox()
	n := s.connCount.Add(1)
	if s.metrics != nil {
		s.metrics.SetConnectedClients(int(n))
	}
	defer func() {
		close(c.done)
		s.broker.UnsubscribeAll(c)
		nc.Close()
		n := s.connCount.Add(-1)
		if s.metrics != nil {
			s.metrics.SetConnectedClients(int(n))
		}
	}()

	idleTimeout := s.cfg.IdleTimeout
	readTimeout := s.cfg.ReadTimeout
	writeTimeout := s.cfg.WriteTimeout

	for {
		if err := nc.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}
		if _, err := c.br.Peek(1); err != nil {
			return
		}
		if err := nc.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}

		args, err := resp.ReadCommand(c.br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			s.writeReply(c, writeTimeout, resp.Errorf("ERR protocol error: %s", err.Error()))
			return
		}
		if len(args) == 0 {
			continue
		}
		if s.metrics != nil {
			s.metrics.IncCommandsProcessed()
		}

		reply, quit, written := s.dispatch(c, args)
		if !written {
			s.writeReply(c, writeTimeout, reply)
		}
		if quit {
			return
		}
	}
}

func (s *Server) outputBufferLimit() int {
	if s.cfg.OutputBufferLimit <= 0 {
		return 1024
	}
	return s.cfg.OutputBufferLimit
}

func (s *Server) writeReply(c *conn, timeout time.Duration, v resp.Value) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(timeout))
	if err := resp.Encode(c.bw, v); err != nil {
		return
	}
	_ = c.bw.Flush()
}
