package cluster

import "sync"

// MigrationState is the explicit per-slot state machine §9 calls for,
// replacing the predecessor ShardMap's implicit ownership-only model.
type MigrationState int

const (
	Stable MigrationState = iota
	Migrating              // this node still owns the slot; PeerID is the destination
	Importing              // this node is receiving the slot; PeerID is the source
)

type slotEntry struct {
	Owner string
	State MigrationState
	Peer  string // migration counterpart when State != Stable
	Epoch uint64
}

// SlotMap is this node's view of slot ownership across the cluster: a
// fixed 16384-entry table (not a consistent-hash ring — the spec fixes the
// slot count, so there is no ring to build), guarded by one mutex the way
// the predecessor guards ShardMap, with a monotonic Version bumped on every
// mutation so readers can detect staleness cheaply.
type SlotMap struct {
	mu      sync.RWMutex
	slots   [SlotCount]slotEntry
	Version uint64
}

func NewSlotMap() *SlotMap {
	return &SlotMap{}
}

// AssignAllTo gives every slot to a single node at epoch 0, used when a
// node starts a brand-new cluster (no MEET peer given on the command line).
func (m *SlotMap) AssignAllTo(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.slots {
		m.slots[i] = slotEntry{Owner: nodeID, State: Stable}
	}
	m.Version++
}

func (m *SlotMap) Owner(slot int) (nodeID string, epoch uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := m.slots[slot]
	return e.Owner, e.Epoch
}

func (m *SlotMap) StateOf(slot int) (MigrationState, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e := m.slots[slot]
	return e.State, e.Peer
}

// SetOwner applies an ownership claim if epoch is greater, or equal with a
// lexicographically greater node id — the tie-break rule in §4.5's Epochs
// paragraph — leaving state Stable. Returns whether the claim was applied.
func (m *SlotMap) SetOwner(slot int, nodeID string, epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.slots[slot]
	if epoch < cur.Epoch || (epoch == cur.Epoch && nodeID <= cur.Owner && cur.Owner != "") {
		return false
	}
	m.slots[slot] = slotEntry{Owner: nodeID, State: Stable, Epoch: epoch}
	m.Version++
	return true
}

// BeginMigrating marks a slot this node owns as migrating to peer, per
// step 1 of the join rebalance protocol: writes are still accepted, but
// once a key is confirmed transferred, requests for it are redirected via
// ASK rather than served or MOVED.
func (m *SlotMap) BeginMigrating(slot int, toPeer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot].State = Migrating
	m.slots[slot].Peer = toPeer
	m.Version++
}

// BeginImporting marks a slot this node is receiving as importing.
func (m *SlotMap) BeginImporting(slot int, fromPeer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot].State = Importing
	m.slots[slot].Peer = fromPeer
	m.Version++
}

// CompleteMigration flips ownership to newOwner at a fresh epoch and
// returns the state machine to Stable, per step 3 ("source atomically
// flips ownership ... and broadcasts CLUSTER UPDATE") and step 4
// ("destination exits IMPORTING").
func (m *SlotMap) CompleteMigration(slot int, newOwner string, epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot] = slotEntry{Owner: newOwner, State: Stable, Epoch: epoch}
	m.Version++
}

// AbortMigration restores Stable state without changing ownership, used
// when a MIGRATE request or one of its RESTORE transfers returns an error,
// so the source keeps the slot. No deadline is set on those peer calls
// (PeerClient.Call sets none).
func (m *SlotMap) AbortMigration(slot int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot].State = Stable
	m.slots[slot].Peer = ""
	m.Version++
}

// OwnedBy returns every slot currently owned by nodeID, in ascending order.
func (m *SlotMap) OwnedBy(nodeID string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int
	for i, e := range m.slots {
		if e.Owner == nodeID {
			out = append(out, i)
		}
	}
	return out
}

// CountMigrating returns how many slots are currently Migrating or
// Importing, used to report the tokmesh_slots_migrating gauge.
func (m *SlotMap) CountMigrating() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.slots {
		if e.State != Stable {
			n++
		}
	}
	return n
}

// CountsByOwner returns how many slots each node currently owns.
func (m *SlotMap) CountsByOwner() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, e := range m.slots {
		if e.Owner != "" {
			counts[e.Owner]++
		}
	}
	return counts
}

// Rows groups contiguous same-owner slot ranges for CLUSTER SLOTS output.
type Row struct {
	Start, End int
	Owner      string
}

func (m *SlotMap) Rows() []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []Row
	start := 0
	for i := 1; i <= SlotCount; i++ {
		if i == SlotCount || m.slots[i].Owner != m.slots[start].Owner {
			rows = append(rows, Row{Start: start, End: i - 1, Owner: m.slots[start].Owner})
			start = i
		}
	}
	return rows
}

// TargetDistribution computes, per §4.5's join rule, how many slots each of
// n live nodes should own: floor(SlotCount/n), with SlotCount mod n nodes
// getting one extra.
func TargetDistribution(nodeIDsSorted []string) map[string]int {
	n := len(nodeIDsSorted)
	if n == 0 {
		return nil
	}
	base := SlotCount / n
	extra := SlotCount % n
	out := make(map[string]int, n)
	for i, id := range nodeIDsSorted {
		out[id] = base
		if i < extra {
			out[id]++
		}
	}
	return out
}
