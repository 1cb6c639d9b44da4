// Package cluster implements §4.5: membership, hash-slot ownership and
// routing, and the slot-migration protocol that rebalances a cluster when a
// node joins. Failure detection and membership propagation ride on
// hashicorp/memberlist (see gossip.go); the data-plane verbs that move key
// bytes between nodes (MIGRATE/RESTORE/UPDATE) and cross-node PUBLISH use a
// direct RESP connection on the peer port instead, since memberlist's
// gossip payloads are sized for small metadata digests, not keyspace data.
package cluster

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/tokmesh-go/internal/resp"
	"github.com/yndnr/tokmesh-go/internal/storage"
)

// Engine is the narrow slice of storage.Engine the cluster manager needs,
// kept as an interface so this package's tests can substitute a fake
// keyspace instead of standing up a real one with AOF/snapshot files.
type Engine interface {
	Keys() []string
	ExportKey(key string) (blob []byte, ttlMillis int64, ok bool)
	RestoreKey(key string, ttlMillis int64, blob []byte) error
	DeleteKey(key string)
}

// Broker is the narrow slice of pubsub.Broker the manager needs to deliver
// an incoming CLUSTER PUBLISH to local subscribers.
type Broker interface {
	PublishLocal(channel string, payload []byte) int
}

var _ Engine = (*storage.Engine)(nil)

// Config wires a Manager to this node's identity and its collaborators.
type Config struct {
	Self           NodeDescriptor
	GossipBindAddr string
	GossipBindPort int
	NodeTimeout    time.Duration
	CleanupTimeout time.Duration
	Logger         *slog.Logger
	Engine         Engine
	Broker         Broker
	Rebalance      RebalanceConfig
}

// Manager is the per-node cluster subsystem: membership table, slot map,
// gossip transport, peer RPC client, and the rebalance engine, presented to
// the rest of the node as one collaborator.
type Manager struct {
	self     NodeDescriptor
	registry *Registry
	slotMap  *SlotMap
	gossip   *Gossip
	peers    *PeerClient
	engine   Engine
	broker   Broker
	logger   *slog.Logger

	epoch atomic.Uint64

	mu          sync.Mutex
	rebalanceCh chan struct{}

	rebalanceCfg RebalanceConfig
}

// NewManager creates the manager and starts its memberlist transport. It
// does not yet own any slots; call Bootstrap or Join next.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Manager{
		self:         cfg.Self,
		slotMap:      NewSlotMap(),
		peers:        NewPeerClient(),
		engine:       cfg.Engine,
		broker:       cfg.Broker,
		logger:       cfg.Logger,
		rebalanceCh:  make(chan struct{}, 1),
		rebalanceCfg: cfg.Rebalance,
	}
	m.registry = NewRegistry(cfg.Self)

	g, err := NewGossip(GossipConfig{
		BindAddr:       cfg.GossipBindAddr,
		BindPort:       cfg.GossipBindPort,
		NodeTimeout:    cfg.NodeTimeout,
		CleanupTimeout: cfg.CleanupTimeout,
		Logger:         cfg.Logger,
	}, m.registry, m.slotMap, cfg.Self, m.signalRebalance)
	if err != nil {
		return nil, fmt.Errorf("cluster: start gossip: %w", err)
	}
	m.gossip = g

	go m.rebalanceLoop()
	return m, nil
}

// Bootstrap makes self the sole owner of every slot, used when starting the
// first node of a brand-new cluster (no MEET address given on the CLI).
func (m *Manager) Bootstrap() {
	m.slotMap.AssignAllTo(m.self.ID)
	m.registry.MarkState(m.self.ID, StateLive)
	m.gossip.UpdateSelfSlots()
}

// Join contacts an existing cluster member and, once memberlist has
// converged enough to see other nodes, asks to be given its fair share of
// slots.
func (m *Manager) Join(seedPeerAddr string) error {
	if _, err := m.gossip.Join(seedPeerAddr); err != nil {
		return fmt.Errorf("cluster: join %s: %w", seedPeerAddr, err)
	}
	m.registry.MarkState(m.self.ID, StateJoining)
	m.signalRebalance()
	return nil
}

func (m *Manager) signalRebalance() {
	select {
	case m.rebalanceCh <- struct{}{}:
	default:
	}
}

func (m *Manager) rebalanceLoop() {
	// Debounce bursts of membership events (a join typically fires several
	// in quick succession) into a single rebalance pass.
	for range m.rebalanceCh {
		time.Sleep(200 * time.Millisecond)
		for len(m.rebalanceCh) > 0 {
			<-m.rebalanceCh
		}
		m.MaybeRebalance()
	}
}

func (m *Manager) nextEpoch() uint64 { return m.epoch.Add(1) }

// Shutdown leaves the cluster gracefully.
func (m *Manager) Shutdown() error {
	m.peers.CloseAll()
	return m.gossip.Shutdown()
}

// LiveNodeCount reports how many nodes this node currently considers live
// (including itself), for the tokmesh_cluster_nodes_live gauge.
func (m *Manager) LiveNodeCount() int {
	return len(m.registry.LiveIDs())
}

// MigratingSlotCount reports how many hash slots are currently in a
// non-stable migration state, for the tokmesh_slots_migrating gauge.
func (m *Manager) MigratingSlotCount() int {
	return m.slotMap.CountMigrating()
}

// ---- routing (§4.5 "Routing") ----

// Decision describes how a client command touching the given keys should be
// handled by this node.
type Decision struct {
	Local      bool
	MovedAddr  string // set when a MOVED redirect is required
	AskAddr    string // set when an ASK redirect is required
	CrossSlot  bool
}

// RouteKeys implements the routing table in §4.5: keys must share a slot,
// that slot must be owned locally, and a slot mid-migration redirects with
// ASK only for keys already transferred. A slot owned by another node gets
// MOVED, or an empty Decision when that owner's address is not known.
func (m *Manager) RouteKeys(keys [][]byte) Decision {
	slot, ok := KeysShareSlot(keys)
	if !ok {
		return Decision{CrossSlot: true}
	}
	owner, _ := m.slotMap.Owner(slot)
	state, peerID := m.slotMap.StateOf(slot)

	if owner != m.self.ID {
		if addr, ok := m.clientAddr(owner); ok {
			return Decision{MovedAddr: fmt.Sprintf("%d %s", slot, addr)}
		}
		return Decision{}
	}

	if state == Migrating && len(keys) == 1 {
		if m.engine != nil {
			if _, _, present := m.engine.ExportKey(string(keys[0])); !present {
				if addr, ok := m.clientAddr(peerID); ok {
					return Decision{AskAddr: addr}
				}
			}
		}
	}
	return Decision{Local: true}
}

func (m *Manager) clientAddr(nodeID string) (string, bool) {
	nd, ok := m.registry.Get(nodeID)
	if !ok || nd.Host == "" || nd.ClientPort == 0 {
		return "", false
	}
	return nd.ClientAddr(), true
}

func (m *Manager) peerAddr(nodeID string) (string, bool) {
	nd, ok := m.registry.Get(nodeID)
	if !ok || nd.Host == "" || nd.PeerPort == 0 {
		return "", false
	}
	return nd.PeerAddr(), true
}

// ---- pub/sub cross-node fan-out (pubsub.Remote) ----

// PublishToPeers implements pubsub.Remote: forward payload to every other
// live node's broker and sum their local delivery counts.
func (m *Manager) PublishToPeers(channel string, payload []byte) (int, error) {
	total := 0
	for _, nd := range m.registry.All() {
		if nd.ID == m.self.ID || nd.State == StateDead {
			continue
		}
		addr, ok := m.peerAddr(nd.ID)
		if !ok {
			continue
		}
		v, err := m.peers.Call(addr, []byte("PUBLISH"), []byte(channel), payload)
		if err != nil {
			m.logger.Warn("cluster publish to peer failed", "peer", nd.ID, "error", err)
			continue
		}
		if v.Type == resp.TypeInteger {
			total += int(v.Int)
		}
	}
	return total, nil
}

// ---- CLUSTER command handling, shared by the client port and peer port ----

// HandleClusterCommand dispatches CLUSTER <verb> ...args, used both by the
// client-facing command router (CLUSTER NODES/SLOTS/MEET/FORGET are
// ordinary admin commands a client may issue) and by the peer listener
// (MIGRATE/RESTORE/UPDATE/PUBLISH arrive this way from other nodes).
func (m *Manager) HandleClusterCommand(args [][]byte) resp.Value {
	if len(args) == 0 {
		return resp.Errorf("ERR wrong number of arguments for 'cluster' command")
	}
	verb := upperASCII(string(args[0]))
	rest := args[1:]
	switch verb {
	case "MEET":
		return m.handleMeet(rest)
	case "NODES":
		return resp.BulkStr(m.nodesText())
	case "SLOTS":
		return m.slotsValue()
	case "FORGET":
		return m.handleForget(rest)
	case "MIGRATE":
		return m.handleMigrate(rest)
	case "RESTORE":
		return m.handleRestore(rest)
	case "UPDATE":
		return m.handleUpdate(rest)
	case "PUBLISH":
		return m.handlePublish(rest)
	default:
		return resp.Errorf("ERR unknown CLUSTER subcommand '%s'", verb)
	}
}

func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func (m *Manager) handleMeet(args [][]byte) resp.Value {
	if len(args) != 1 {
		return resp.Errorf("ERR wrong number of arguments for 'cluster|meet' command")
	}
	if err := m.Join(string(args[0])); err != nil {
		return resp.Errorf("ERR %s", err.Error())
	}
	return resp.SimpleString("OK")
}

func (m *Manager) nodesText() string {
	var out string
	for _, nd := range m.registry.All() {
		rows := ownedRows(m.slotMap, nd.ID)
		slotsText := ""
		for _, r := range rows {
			if r.Start == r.End {
				slotsText += fmt.Sprintf(" %d", r.Start)
			} else {
				slotsText += fmt.Sprintf(" %d-%d", r.Start, r.End)
			}
		}
		self := ""
		if nd.ID == m.self.ID {
			self = "myself,"
		}
		out += fmt.Sprintf("%s %s:%d@%d %s%s %d%s\n",
			nd.ID, nd.Host, nd.ClientPort, nd.PeerPort, self, nd.State, nd.Epoch, slotsText)
	}
	return out
}

func (m *Manager) slotsValue() resp.Value {
	var rows []resp.Value
	for _, r := range m.slotMap.Rows() {
		if r.Owner == "" {
			continue
		}
		nd, ok := m.registry.Get(r.Owner)
		if !ok {
			continue
		}
		rows = append(rows, resp.Array([]resp.Value{
			resp.Integer(int64(r.Start)),
			resp.Integer(int64(r.End)),
			resp.Array([]resp.Value{
				resp.BulkStr(nd.Host),
				resp.Integer(int64(nd.ClientPort)),
				resp.BulkStr(nd.ID),
			}),
		}))
	}
	return resp.Array(rows)
}

// handleForget marks id as leaving, removes it from this node's membership
// table and signals a rebalance pass. That pass only pulls slots from live
// members still in the table, so slots still owned by id are not migrated
// by this call, and other nodes are not told about the removal.
func (m *Manager) handleForget(args [][]byte) resp.Value {
	if len(args) != 1 {
		return resp.Errorf("ERR wrong number of arguments for 'cluster|forget' command")
	}
	id := string(args[0])
	m.registry.MarkState(id, StateLeaving)
	m.registry.Remove(id)
	m.signalRebalance()
	return resp.SimpleString("OK")
}

func (m *Manager) handleRestore(args [][]byte) resp.Value {
	if len(args) != 3 {
		return resp.Errorf("ERR wrong number of arguments for 'cluster|restore' command")
	}
	ttl, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return resp.Errorf("ERR invalid ttl")
	}
	if err := m.engine.RestoreKey(string(args[0]), ttl, args[2]); err != nil {
		return resp.Errorf("ERR %s", err.Error())
	}
	return resp.SimpleString("OK")
}

func (m *Manager) handleUpdate(args [][]byte) resp.Value {
	if len(args) != 3 {
		return resp.Errorf("ERR wrong number of arguments for 'cluster|update' command")
	}
	slot, err := strconv.Atoi(string(args[0]))
	if err != nil || slot < 0 || slot >= SlotCount {
		return resp.Errorf("ERR invalid slot")
	}
	nodeID := string(args[1])
	epoch, err := strconv.ParseUint(string(args[2]), 10, 64)
	if err != nil {
		return resp.Errorf("ERR invalid epoch")
	}
	m.slotMap.SetOwner(slot, nodeID, epoch)
	return resp.SimpleString("OK")
}

func (m *Manager) handlePublish(args [][]byte) resp.Value {
	if len(args) != 2 {
		return resp.Errorf("ERR wrong number of arguments for 'cluster|publish' command")
	}
	n := m.broker.PublishLocal(string(args[0]), args[1])
	return resp.Integer(int64(n))
}
