// Package pubsub implements the per-node publish/subscribe broker: a
// channel-striped subscriber table and a dedicated fan-out goroutine,
// grounded on the predecessor's pkg/cmap sharded map (here put to its
// spec-intended use, striping by channel rather than by key) and on §9's
// design note to treat publish as message passing rather than a direct
// synchronous write into each subscriber's socket.
package pubsub

import (
	"bufio"
	"sync"

	"github.com/yndnr/tokmesh-go/internal/resp"
	"github.com/yndnr/tokmesh-go/pkg/cmap"
)

// Subscriber is the minimal surface the broker needs from a client
// connection: a way to deliver a message and an identity for set
// membership. The redisserver package's conn implements this.
type Subscriber interface {
	DeliverMessage(channel string, payload []byte) error
	ID() uint64
}

// Remote delivers a publish to every other live node in the cluster and
// reports back the sum of their local delivery counts. The cluster package
// supplies the concrete implementation (CLUSTER PUBLISH over peer
// connections); pubsub only depends on this narrow interface to avoid an
// import cycle with the cluster package, which itself needs to publish
// incoming CLUSTER PUBLISH messages into the local Broker.
type Remote interface {
	PublishToPeers(channel string, payload []byte) (delivered int, err error)
}

type publishJob struct {
	channel string
	payload []byte
	result  chan int
}

// Broker owns the channel -> subscriber-set table and a single goroutine
// that drains publish jobs in order, so a single publisher's messages to
// one channel are delivered to every subscriber in publish order. Publish
// blocks until its job has been delivered and counted.
type Broker struct {
	mu     sync.RWMutex
	chans  map[string]*cmap.Map[uint64, Subscriber]
	remote Remote

	jobs   chan publishJob
	stopCh chan struct{}
	doneCh chan struct{}
}

func New() *Broker {
	b := &Broker{
		chans:  make(map[string]*cmap.Map[uint64, Subscriber]),
		jobs:   make(chan publishJob, 1024),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go b.run()
	return b
}

// SetRemote wires the cluster-wide fan-out path. Called once during node
// startup after both the broker and the cluster manager exist.
func (b *Broker) SetRemote(r Remote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remote = r
}

func (b *Broker) subscriberSet(channel string) *cmap.Map[uint64, Subscriber] {
	b.mu.RLock()
	set, ok := b.chans[channel]
	b.mu.RUnlock()
	if ok {
		return set
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok = b.chans[channel]; ok {
		return set
	}
	set = cmap.New[uint64, Subscriber]()
	b.chans[channel] = set
	return set
}

// Subscribe adds sub to channel's subscriber set. It returns nothing: the
// per-connection subscription count is tracked by the caller's connection
// state, not here — the broker only tracks membership.
func (b *Broker) Subscribe(channel string, sub Subscriber) {
	b.subscriberSet(channel).Set(sub.ID(), sub)
}

// Unsubscribe removes sub from channel, pruning the channel entirely once
// empty so long-lived idle channels don't accumulate.
func (b *Broker) Unsubscribe(channel string, sub Subscriber) {
	b.mu.RLock()
	set, ok := b.chans[channel]
	b.mu.RUnlock()
	if !ok {
		return
	}
	set.Delete(sub.ID())
	if set.Count() == 0 {
		b.mu.Lock()
		if s, ok := b.chans[channel]; ok && s.Count() == 0 {
			delete(b.chans, channel)
		}
		b.mu.Unlock()
	}
}

// UnsubscribeAll removes sub from every channel, used on connection close.
func (b *Broker) UnsubscribeAll(sub Subscriber) {
	b.mu.RLock()
	channels := make([]string, 0, len(b.chans))
	for ch := range b.chans {
		channels = append(channels, ch)
	}
	b.mu.RUnlock()
	for _, ch := range channels {
		b.Unsubscribe(ch, sub)
	}
}

// Publish enqueues (channel, payload) and blocks until the local delivery
// count plus every reachable peer's delivery count is known, matching the
// spec's "originating node sums and returns the total".
func (b *Broker) Publish(channel string, payload []byte) int {
	job := publishJob{channel: channel, payload: payload, result: make(chan int, 1)}
	b.jobs <- job
	return <-job.result
}

// PublishLocal delivers to this node's local subscribers only, used both
// by run() for a node's own PUBLISH and by the cluster peer listener when
// relaying a CLUSTER PUBLISH originated elsewhere.
func (b *Broker) PublishLocal(channel string, payload []byte) int {
	b.mu.RLock()
	set, ok := b.chans[channel]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	delivered := 0
	set.Range(func(_ uint64, sub Subscriber) bool {
		if err := sub.DeliverMessage(channel, payload); err == nil {
			delivered++
		}
		return true
	})
	return delivered
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case <-b.stopCh:
			return
		case job := <-b.jobs:
			total := b.PublishLocal(job.channel, job.payload)
			b.mu.RLock()
			remote := b.remote
			b.mu.RUnlock()
			if remote != nil {
				if n, err := remote.PublishToPeers(job.channel, job.payload); err == nil {
					total += n
				}
			}
			job.result <- total
		}
	}
}

func (b *Broker) Close() {
	close(b.stopCh)
	<-b.doneCh
}

// EncodeMessage renders the ["message", channel, payload] delivery array a
// subscribed connection writes to its socket.
func EncodeMessage(w *bufio.Writer, channel string, payload []byte) error {
	v := resp.Array([]resp.Value{
		resp.BulkStr("message"),
		resp.BulkStr(channel),
		resp.Bulk(payload),
	})
	return resp.Encode(w, v)
}

// EncodeSubscribeAck renders the ["subscribe", channel, count] reply sent
// per channel on SUBSCRIBE/UNSUBSCRIBE.
func EncodeSubscribeAck(w *bufio.Writer, verb, channel string, count int) error {
	v := resp.Array([]resp.Value{
		resp.BulkStr(verb),
		resp.BulkStr(channel),
		resp.Integer(int64(count)),
	})
	return resp.Encode(w, v)
}
