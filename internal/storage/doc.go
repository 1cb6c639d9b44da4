// Package storage implements the node's in-memory keyspace and its
// durability layer: an append-only command log plus periodic binary
// snapshots.
//
// Architecture:
//
//   - Keyspace: the in-memory String/List/Set store, one RWMutex wide
//   - AOF (internal/storage/aof): every write command, logged before the
//     caller gets a reply
//   - Snapshot (internal/storage/snapshot): periodic full dumps that bound
//     how much AOF a cold start has to replay
//
// Recovery on startup loads the latest snapshot, then replays the AOF
// written since, so a node never loses an acknowledged write.
package storage
