package redisserver

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/yndnr/tokmesh-go/internal/pubsub"
	"github.com/yndnr/tokmesh-go/internal/resp"
	"github.com/yndnr/tokmesh-go/internal/storage"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	dir := t.TempDir()
	eng := storage.New(storage.DefaultConfig(dir))
	if err := eng.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}
	broker := pubsub.New()
	srv := New(DefaultConfig("127.0.0.1:0"), eng, broker, nil, nil, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.ln = ln
	srv.running.Store(true)
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serve(nc)
		}
	}()

	cleanup := func() {
		srv.Shutdown()
		eng.Close()
		broker.Close()
	}
	return srv, cleanup
}

func dial(t *testing.T, addr string) (net.Conn, *bufio.Reader, *bufio.Writer) {
	t.Helper()
	nc, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return nc, bufio.NewReader(nc), bufio.NewWriter(nc)
}

func sendCommand(t *testing.T, w *bufio.Writer, args ...string) {
	t.Helper()
	bargs := make([][]byte, len(args))
	for i, a := range args {
		bargs[i] = []byte(a)
	}
	if err := resp.EncodeCommand(w, bargs); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestPingAndSetGet(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	nc, r, w := dial(t, srv.ln.Addr().String())
	defer nc.Close()

	sendCommand(t, w, "PING")
	v, err := resp.Decode(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Type != resp.TypeSimpleString || string(v.Str) != "PONG" {
		t.Fatalf("expected PONG, got %+v", v)
	}

	sendCommand(t, w, "SET", "foo", "bar")
	v, err = resp.Decode(r)
	if err != nil || string(v.Str) != "OK" {
		t.Fatalf("expected OK, got %+v, err=%v", v, err)
	}

	sendCommand(t, w, "GET", "foo")
	v, err = resp.Decode(r)
	if err != nil || string(v.Str) != "bar" {
		t.Fatalf("expected bar, got %+v, err=%v", v, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	sub, subR, subW := dial(t, srv.ln.Addr().String())
	defer sub.Close()

	sendCommand(t, subW, "SUBSCRIBE", "news")
	ack, err := resp.Decode(subR)
	if err != nil {
		t.Fatalf("subscribe ack: %v", err)
	}
	if ack.Type != resp.TypeArray || len(ack.Elems) != 3 || string(ack.Elems[0].Str) != "subscribe" {
		t.Fatalf("unexpected subscribe ack: %+v", ack)
	}

	pub, _, pubW := dial(t, srv.ln.Addr().String())
	defer pub.Close()
	sendCommand(t, pubW, "PUBLISH", "news", "hello")

	msg, err := resp.Decode(subR)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if msg.Type != resp.TypeArray || string(msg.Elems[0].Str) != "message" || string(msg.Elems[2].Str) != "hello" {
		t.Fatalf("unexpected delivered message: %+v", msg)
	}
}

func TestRestrictedModeAfterSubscribe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	nc, r, w := dial(t, srv.ln.Addr().String())
	defer nc.Close()

	sendCommand(t, w, "SUBSCRIBE", "ch")
	if _, err := resp.Decode(r); err != nil {
		t.Fatalf("subscribe ack: %v", err)
	}

	sendCommand(t, w, "GET", "foo")
	v, err := resp.Decode(r)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Type != resp.TypeError {
		t.Fatalf("expected error reply in subscribed mode, got %+v", v)
	}
}
