// Package cmap provides a generic sharded concurrent map.
//
// A Map shards its entries across several independently-locked buckets, so
// unrelated keys rarely contend on the same lock:
//
//   - Sharding: Configurable shard count for parallelism
//   - Fine-grained Locking: Per-shard RWMutex for minimal contention
//   - Iteration: Safe iteration while holding read locks
//
// The pub/sub broker uses one Map per channel, striped by subscriber
// connection, rather than using it for the keyspace itself: the keyspace
// needs one linearizable lock across all keys, which a sharded map cannot
// give it.
//
// Usage:
//
//	m := cmap.NewWithShards[string, *Conn](32)
//	m.Set(connID, conn)
//	val, ok := m.Get(connID)
//
// Thread Safety:
//
// All operations are thread-safe. Read operations (Get, Has) use RLock,
// write operations (Set, Delete) use Lock.
package cmap
