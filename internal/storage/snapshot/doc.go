// Package snapshot implements dump.rdb (§4.4): a point-in-time binary dump
// of the keyspace, written to a temp file then atomically renamed into
// place, grounded on the predecessor's snapshot.Manager write discipline
// but with its session-record JSON format replaced by a from-scratch
// binary layout fixed by this spec's wire format:
//
//	[magic:7 "RUSTIDB"][version:u16][count:u64][entries...][crc64:8]
//
// Each entry carries its key, an optional TTL, a type tag
// (string/list/set), and the tag-appropriate payload.
//
// Recovery order (storage.Engine.Recover): load the snapshot, then replay
// appendonly.aof on top of it.
package snapshot
