package pubsub

import (
	"bufio"
	"bytes"
	"errors"
	"sync"
	"testing"
)

type fakeSubscriber struct {
	id       uint64
	mu       sync.Mutex
	received []string
	fail     bool
}

func (f *fakeSubscriber) ID() uint64 { return f.id }

func (f *fakeSubscriber) DeliverMessage(channel string, payload []byte) error {
	if f.fail {
		return errors.New("delivery failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, channel+":"+string(payload))
	return nil
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

type fakeRemote struct {
	delivered int
	err       error
}

func (r *fakeRemote) PublishToPeers(channel string, payload []byte) (int, error) {
	return r.delivered, r.err
}

func TestBroker_SubscribePublish(t *testing.T) {
	b := New()
	defer b.Close()

	sub1 := &fakeSubscriber{id: 1}
	sub2 := &fakeSubscriber{id: 2}
	b.Subscribe("news", sub1)
	b.Subscribe("news", sub2)

	n := b.Publish("news", []byte("hello"))
	if n != 2 {
		t.Errorf("Publish delivered = %d, want 2", n)
	}
	if sub1.count() != 1 || sub2.count() != 1 {
		t.Errorf("subscribers received %d, %d messages, want 1, 1", sub1.count(), sub2.count())
	}
}

func TestBroker_PublishNoSubscribers(t *testing.T) {
	b := New()
	defer b.Close()

	n := b.Publish("nobody-listens", []byte("x"))
	if n != 0 {
		t.Errorf("Publish to empty channel = %d, want 0", n)
	}
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	sub := &fakeSubscriber{id: 1}
	b.Subscribe("ch", sub)
	b.Unsubscribe("ch", sub)

	n := b.Publish("ch", []byte("x"))
	if n != 0 {
		t.Errorf("Publish after Unsubscribe = %d, want 0", n)
	}
}

func TestBroker_UnsubscribeAll(t *testing.T) {
	b := New()
	defer b.Close()

	sub := &fakeSubscriber{id: 1}
	b.Subscribe("a", sub)
	b.Subscribe("b", sub)
	b.UnsubscribeAll(sub)

	if b.Publish("a", []byte("x")) != 0 || b.Publish("b", []byte("x")) != 0 {
		t.Error("UnsubscribeAll did not remove subscriber from all channels")
	}
}

func TestBroker_FailedDeliveryNotCounted(t *testing.T) {
	b := New()
	defer b.Close()

	ok := &fakeSubscriber{id: 1}
	bad := &fakeSubscriber{id: 2, fail: true}
	b.Subscribe("ch", ok)
	b.Subscribe("ch", bad)

	n := b.Publish("ch", []byte("x"))
	if n != 1 {
		t.Errorf("Publish = %d, want 1 (the failing subscriber should not count)", n)
	}
}

func TestBroker_RemoteFanOut(t *testing.T) {
	b := New()
	defer b.Close()

	sub := &fakeSubscriber{id: 1}
	b.Subscribe("ch", sub)
	b.SetRemote(&fakeRemote{delivered: 3})

	n := b.Publish("ch", []byte("x"))
	if n != 4 {
		t.Errorf("Publish = %d, want 4 (1 local + 3 remote)", n)
	}
}

func TestBroker_RemoteErrorIgnored(t *testing.T) {
	b := New()
	defer b.Close()

	sub := &fakeSubscriber{id: 1}
	b.Subscribe("ch", sub)
	b.SetRemote(&fakeRemote{delivered: 5, err: errors.New("peer unreachable")})

	n := b.Publish("ch", []byte("x"))
	if n != 1 {
		t.Errorf("Publish = %d, want 1 (remote error should not add its count)", n)
	}
}

func TestEncodeMessage(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := EncodeMessage(w, "news", []byte("hi")); err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}
	w.Flush()
	if buf.Len() == 0 {
		t.Error("EncodeMessage wrote nothing")
	}
}

func TestEncodeSubscribeAck(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := EncodeSubscribeAck(w, "subscribe", "news", 1); err != nil {
		t.Fatalf("EncodeSubscribeAck failed: %v", err)
	}
	w.Flush()
	if buf.Len() == 0 {
		t.Error("EncodeSubscribeAck wrote nothing")
	}
}
