package cluster

import (
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/hashicorp/memberlist"
)

// metaVersion guards the wire format of the bytes carried in memberlist's
// per-node Meta field, in case a future field needs to be added without
// breaking a mixed-version cluster mid-rollout.
const metaVersion = 1

// nodeMeta is the gossiped digest described in SPEC_FULL.md §4.5: this
// node's client/peer ports, its current slot-ownership epoch, and the
// ranges of slots it owns, encoded as a flat byte buffer (memberlist caps
// Meta at a few hundred bytes by default, so this stays compact rather
// than using encoding/json).
type nodeMeta struct {
	ClientPort int
	PeerPort   int
	Epoch      uint64
	Rows       []Row // slot ranges owned by this node, at Epoch
}

func encodeMeta(m nodeMeta) []byte {
	buf := make([]byte, 0, 16+8*len(m.Rows))
	buf = appendUint16(buf, metaVersion)
	buf = appendUint16(buf, uint16(m.ClientPort))
	buf = appendUint16(buf, uint16(m.PeerPort))
	buf = appendUint64(buf, m.Epoch)
	buf = appendUint16(buf, uint16(len(m.Rows)))
	for _, row := range m.Rows {
		buf = appendUint16(buf, uint16(row.Start))
		buf = appendUint16(buf, uint16(row.End))
	}
	return buf
}

func decodeMeta(b []byte) (nodeMeta, bool) {
	var m nodeMeta
	if len(b) < 16 {
		return m, false
	}
	version := binary.BigEndian.Uint16(b[0:2])
	if version != metaVersion {
		return m, false
	}
	m.ClientPort = int(binary.BigEndian.Uint16(b[2:4]))
	m.PeerPort = int(binary.BigEndian.Uint16(b[4:6]))
	m.Epoch = binary.BigEndian.Uint64(b[6:14])
	count := int(binary.BigEndian.Uint16(b[14:16]))
	off := 16
	for i := 0; i < count && off+4 <= len(b); i++ {
		start := int(binary.BigEndian.Uint16(b[off : off+2]))
		end := int(binary.BigEndian.Uint16(b[off+2 : off+4]))
		m.Rows = append(m.Rows, Row{Start: start, End: end})
		off += 4
	}
	return m, true
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// Gossip wraps hashicorp/memberlist to provide the failure detection and
// membership propagation §4.5 describes as "a periodic PING to a random
// subset, answered with PONG carrying any newer info" and "unanswered for
// node-timeout is marked dead; after cleanup-timeout removed". memberlist's
// own SWIM protocol already implements exactly that handshake, so Gossip
// only needs to translate its events into Registry/SlotMap updates rather
// than reimplement the ping loop.
type Gossip struct {
	list     *memberlist.Memberlist
	registry *Registry
	slotMap  *SlotMap
	self     NodeDescriptor
	logger   *slog.Logger

	onMembershipChange func()
}

// GossipConfig configures the memberlist transport.
type GossipConfig struct {
	BindAddr       string
	BindPort       int
	NodeTimeout    time.Duration
	CleanupTimeout time.Duration
	Logger         *slog.Logger
}

// NewGossip starts the memberlist transport bound to cfg.BindAddr:BindPort,
// gossiping self's descriptor and slot ownership in its Meta bytes.
// onMembershipChange is invoked (from a memberlist-owned goroutine) any time
// the live node set changes, so the caller can trigger rebalancing.
func NewGossip(cfg GossipConfig, registry *Registry, slotMap *SlotMap, self NodeDescriptor, onMembershipChange func()) (*Gossip, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := &Gossip{
		registry:           registry,
		slotMap:            slotMap,
		self:               self,
		logger:             cfg.Logger,
		onMembershipChange: onMembershipChange,
	}

	mlCfg := memberlist.DefaultLocalConfig()
	mlCfg.Name = self.ID
	mlCfg.BindAddr = cfg.BindAddr
	mlCfg.BindPort = cfg.BindPort
	mlCfg.AdvertisePort = cfg.BindPort
	if cfg.NodeTimeout > 0 {
		mlCfg.ProbeInterval = cfg.NodeTimeout / 10
		mlCfg.ProbeTimeout = cfg.NodeTimeout / 2
	}
	mlCfg.LogOutput = slogWriter{logger: cfg.Logger}
	mlCfg.Delegate = &gossipDelegate{g: g}
	mlCfg.Events = &gossipEvents{g: g}

	list, err := memberlist.Create(mlCfg)
	if err != nil {
		return nil, err
	}
	g.list = list
	return g, nil
}

// Join contacts seed for a MEET handshake: memberlist exchanges full state
// with it and every peer it already knows converges via gossip.
func (g *Gossip) Join(seed string) (int, error) {
	return g.list.Join([]string{seed})
}

// UpdateSelfSlots re-publishes this node's current owned-slot rows and
// epoch, called after a migration changes local ownership so peers learn
// the new claim on the next gossip round.
func (g *Gossip) UpdateSelfSlots() {
	g.list.UpdateNode(0)
}

func (g *Gossip) Shutdown() error {
	if err := g.list.Leave(time.Second); err != nil {
		g.logger.Warn("gossip leave failed", "error", err)
	}
	return g.list.Shutdown()
}

func (g *Gossip) Members() []*memberlist.Node {
	return g.list.Members()
}

// gossipDelegate implements memberlist.Delegate, supplying this node's
// NodeMeta and accepting none of the optional broadcast/push-pull features
// beyond what NodeMeta already carries — there is no user data to merge.
type gossipDelegate struct{ g *Gossip }

func (d *gossipDelegate) NodeMeta(limit int) []byte {
	self := d.g.registry.Self()
	rows := ownedRows(d.g.slotMap, self.ID)
	b := encodeMeta(nodeMeta{
		ClientPort: self.ClientPort,
		PeerPort:   self.PeerPort,
		Epoch:      self.Epoch,
		Rows:       rows,
	})
	if len(b) > limit {
		b = b[:limit]
	}
	return b
}

func (d *gossipDelegate) NotifyMsg([]byte)                           {}
func (d *gossipDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *gossipDelegate) LocalState(join bool) []byte                { return nil }
func (d *gossipDelegate) MergeRemoteState(buf []byte, join bool)     {}

// ownedRows returns the Row set restricted to slots owned by nodeID.
func ownedRows(sm *SlotMap, nodeID string) []Row {
	var rows []Row
	for _, r := range sm.Rows() {
		if r.Owner == nodeID {
			rows = append(rows, r)
		}
	}
	return rows
}

// gossipEvents implements memberlist.EventDelegate, translating SWIM
// join/update/leave notifications into Registry and SlotMap updates. This
// is the "onJoin/onLeave/onUpdate callback pattern" SPEC_FULL.md grounds on
// the predecessor's clusterserver.Discovery, repurposed from tracking Raft
// addresses to tracking client/peer ports and slot-ownership epochs.
type gossipEvents struct{ g *Gossip }

func (e *gossipEvents) apply(n *memberlist.Node) {
	meta, ok := decodeMeta(n.Meta)
	if !ok {
		return
	}
	nd := NodeDescriptor{
		ID:         n.Name,
		Host:       n.Addr.String(),
		ClientPort: meta.ClientPort,
		PeerPort:   meta.PeerPort,
		Epoch:      meta.Epoch,
		State:      StateLive,
		LastSeen:   time.Now(),
	}
	e.g.registry.Upsert(nd)
	for _, row := range meta.Rows {
		for slot := row.Start; slot <= row.End; slot++ {
			e.g.slotMap.SetOwner(slot, n.Name, meta.Epoch)
		}
	}
}

func (e *gossipEvents) NotifyJoin(n *memberlist.Node) {
	e.g.registry.Upsert(NodeDescriptor{ID: n.Name, Host: n.Addr.String(), State: StateJoining, LastSeen: time.Now()})
	e.apply(n)
	if e.g.onMembershipChange != nil {
		e.g.onMembershipChange()
	}
}

func (e *gossipEvents) NotifyLeave(n *memberlist.Node) {
	e.g.registry.MarkState(n.Name, StateDead)
	if e.g.onMembershipChange != nil {
		e.g.onMembershipChange()
	}
}

func (e *gossipEvents) NotifyUpdate(n *memberlist.Node) {
	e.apply(n)
}

// slogWriter adapts *slog.Logger to the io.Writer memberlist's LogOutput
// wants, since memberlist predates log/slog and only speaks log.Logger.
type slogWriter struct{ logger *slog.Logger }

func (w slogWriter) Write(p []byte) (int, error) {
	w.logger.Debug("memberlist", "msg", string(p))
	return len(p), nil
}
