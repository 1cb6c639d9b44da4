package cluster

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/yndnr/tokmesh-go/internal/resp"
)

// PeerClient maintains lazily-dialed connections to peer nodes for the
// data-plane CLUSTER verbs (MIGRATE, RESTORE, UPDATE, PUBLISH) that carry
// actual key data or need a synchronous reply — the one part of §4.5's
// gossip protocol memberlist cannot serve, since memberlist gossips small
// metadata digests, not key/value payloads. Connections are cached by
// address and redialed on failure.
type PeerClient struct {
	mu    sync.Mutex
	conns map[string]*peerConn
	dial  time.Duration
}

type peerConn struct {
	mu sync.Mutex
	nc net.Conn
	br *bufio.Reader
	bw *bufio.Writer
}

func NewPeerClient() *PeerClient {
	return &PeerClient{conns: make(map[string]*peerConn), dial: 5 * time.Second}
}

func (c *PeerClient) getConn(addr string) (*peerConn, error) {
	c.mu.Lock()
	pc, ok := c.conns[addr]
	c.mu.Unlock()
	if ok {
		return pc, nil
	}
	nc, err := net.DialTimeout("tcp", addr, c.dial)
	if err != nil {
		return nil, err
	}
	pc = &peerConn{nc: nc, br: bufio.NewReader(nc), bw: bufio.NewWriter(nc)}
	c.mu.Lock()
	c.conns[addr] = pc
	c.mu.Unlock()
	return pc, nil
}

func (c *PeerClient) drop(addr string) {
	c.mu.Lock()
	if pc, ok := c.conns[addr]; ok {
		_ = pc.nc.Close()
		delete(c.conns, addr)
	}
	c.mu.Unlock()
}

// Call sends a CLUSTER <verb> <args...> command to addr and returns the
// decoded reply. On any I/O error the cached connection is dropped so the
// next call redials, matching the predecessor's retry-by-reconnect style
// elsewhere in the codebase.
func (c *PeerClient) Call(addr string, args ...[]byte) (resp.Value, error) {
	pc, err := c.getConn(addr)
	if err != nil {
		return resp.Value{}, err
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()

	full := append([][]byte{[]byte("CLUSTER")}, args...)
	if err := resp.EncodeCommand(pc.bw, full); err != nil {
		c.drop(addr)
		return resp.Value{}, err
	}
	if err := pc.bw.Flush(); err != nil {
		c.drop(addr)
		return resp.Value{}, err
	}
	v, err := resp.Decode(pc.br)
	if err != nil {
		c.drop(addr)
		return resp.Value{}, err
	}
	if v.Type == resp.TypeError {
		return v, fmt.Errorf("peer error: %s", string(v.Str))
	}
	return v, nil
}

func (c *PeerClient) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, pc := range c.conns {
		_ = pc.nc.Close()
		delete(c.conns, addr)
	}
}
