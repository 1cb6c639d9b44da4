package cluster

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/tokmesh-go/internal/resp"
)

// RebalanceConfig tunes the migration driver described in §4.5's join
// protocol: how many slots move concurrently and how fast key bytes stream,
// grounded on the predecessor's RebalanceManager (which throttled shard
// moves the same way, via a token-bucket limiter and a bounded worker pool).
type RebalanceConfig struct {
	MaxConcurrentSlots int // default 4
	BytesPerSecond     int // <= 0 selects the default of 32MiB/s
}

func (c RebalanceConfig) withDefaults() RebalanceConfig {
	if c.MaxConcurrentSlots <= 0 {
		c.MaxConcurrentSlots = 4
	}
	if c.BytesPerSecond <= 0 {
		c.BytesPerSecond = 32 << 20
	}
	return c
}

// MaybeRebalance runs the joining-node side of §4.5's rebalance protocol:
// if this node owns fewer slots than its fair share of the live set, it
// picks donors among the nodes holding a surplus and pulls slots from them,
// one slot per MIGRATE request, with at most MaxConcurrentSlots requests in
// flight.
func (m *Manager) MaybeRebalance() {
	cfg := m.rebalanceCfg.withDefaults()
	live := m.registry.LiveIDs()
	if len(live) < 2 {
		return
	}
	target := TargetDistribution(live)
	current := m.slotMap.CountsByOwner()

	deficit := target[m.self.ID] - current[m.self.ID]
	if deficit <= 0 {
		return
	}

	type surplus struct {
		id    string
		extra int
	}
	var donors []surplus
	for _, id := range live {
		if id == m.self.ID {
			continue
		}
		extra := current[id] - target[id]
		if extra > 0 {
			donors = append(donors, surplus{id, extra})
		}
	}
	sort.Slice(donors, func(i, j int) bool { return donors[i].extra > donors[j].extra })

	sem := make(chan struct{}, cfg.MaxConcurrentSlots)
	var wg sync.WaitGroup

	for _, d := range donors {
		if deficit <= 0 {
			break
		}
		donorAddr, ok := m.peerAddr(d.id)
		if !ok {
			continue
		}
		slots := m.slotMap.OwnedBy(d.id)
		take := d.extra
		if take > deficit {
			take = deficit
		}
		if take > len(slots) {
			take = len(slots)
		}
		for _, slot := range slots[:take] {
			sem <- struct{}{}
			wg.Add(1)
			go func(slot int) {
				defer wg.Done()
				defer func() { <-sem }()
				m.pullSlot(donorAddr, d.id, slot)
			}(slot)
		}
		deficit -= take
	}
	wg.Wait()
}

// pullSlot asks the node at donorAddr to migrate slot to this node by
// issuing CLUSTER MIGRATE, which the donor executes synchronously: it
// streams every key in the slot to this node via CLUSTER RESTORE calls
// before replying, then broadcasts the new ownership. This node marks the
// slot Importing for the duration of the request, per §9's state machine;
// handleUpdate's SetOwner flips it back to Stable once the donor's
// ownership broadcast lands, completing step 4 of the join protocol.
func (m *Manager) pullSlot(donorAddr, donorID string, slot int) {
	taskID := ulid.Make().String()
	selfAddr, ok := m.peerAddr(m.self.ID)
	if !ok {
		selfAddr = m.self.PeerAddr()
	}
	m.slotMap.BeginImporting(slot, donorID)
	m.logger.Info("rebalance: requesting slot", "task", taskID, "slot", slot, "donor", donorAddr)
	_, err := m.peers.Call(donorAddr, []byte("MIGRATE"),
		[]byte(strconv.Itoa(slot)), []byte(m.self.ID), []byte(selfAddr))
	if err != nil {
		m.slotMap.AbortMigration(slot)
		m.logger.Warn("rebalance: migrate request failed", "task", taskID, "slot", slot, "error", err)
	}
}

// handleMigrate is the donor side of CLUSTER MIGRATE <slot> <dstNodeID>
// <dstPeerAddr>: this node currently owns slot and is asked to hand it to
// dst. It marks the slot Migrating, streams every key in it via CLUSTER
// RESTORE, deletes each once acknowledged, then flips ownership locally and
// broadcasts CLUSTER UPDATE so every other node's slot map converges without
// waiting on the next gossip round.
func (m *Manager) handleMigrate(args [][]byte) resp.Value {
	if len(args) != 3 {
		return resp.Errorf("ERR wrong number of arguments for 'cluster|migrate' command")
	}
	slot, err := strconv.Atoi(string(args[0]))
	if err != nil || slot < 0 || slot >= SlotCount {
		return resp.Errorf("ERR invalid slot")
	}
	dstID := string(args[1])
	dstAddr := string(args[2])

	owner, _ := m.slotMap.Owner(slot)
	if owner != m.self.ID {
		return resp.Errorf("ERR slot %d is not owned by this node", slot)
	}

	rbCfg := m.rebalanceCfg.withDefaults()
	limiter := rate.NewLimiter(rate.Limit(rbCfg.BytesPerSecond), rbCfg.BytesPerSecond)

	m.slotMap.BeginMigrating(slot, dstID)
	for _, key := range m.engine.Keys() {
		if KeySlot([]byte(key)) != slot {
			continue
		}
		blob, ttl, ok := m.engine.ExportKey(key)
		if !ok {
			continue
		}
		_ = limiter.WaitN(context.Background(), len(blob))
		if _, err := m.peers.Call(dstAddr, []byte("RESTORE"), []byte(key), []byte(strconv.FormatInt(ttl, 10)), blob); err != nil {
			m.slotMap.AbortMigration(slot)
			m.logger.Error("migration: restore failed, aborting", "slot", slot, "key", key, "error", err)
			return resp.Errorf("ERR migration of slot %d aborted: %s", slot, err.Error())
		}
		m.engine.DeleteKey(key)
	}

	epoch := m.nextEpoch()
	m.slotMap.CompleteMigration(slot, dstID, epoch)
	m.gossip.UpdateSelfSlots()

	for _, nd := range m.registry.All() {
		if nd.ID == m.self.ID {
			continue
		}
		addr, ok := m.peerAddr(nd.ID)
		if !ok {
			continue
		}
		if _, err := m.peers.Call(addr, []byte("UPDATE"), []byte(strconv.Itoa(slot)), []byte(dstID), []byte(strconv.FormatUint(epoch, 10))); err != nil {
			m.logger.Warn("migration: update broadcast failed", "peer", nd.ID, "error", err)
		}
	}

	m.logger.Info("migration complete", "slot", slot, "to", dstID, "epoch", epoch)
	return resp.SimpleString("OK")
}
