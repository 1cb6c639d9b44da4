// Package main provides the entry point for tokmesh-node, the clustered
// key-value node.
//
// One process hosts the full node: the client-facing RESP listener, the
// cluster peer listener, the storage engine (AOF + snapshot persistence),
// the pub/sub broker, and an optional Prometheus metrics listener. There is
// no separate HTTP API or management socket; everything a client or a peer
// node needs rides over RESP.
//
// Usage:
//
//	tokmesh-node <conf_file>                # bootstrap a new cluster
//	tokmesh-node <conf_file> <ip>:<port>     # join an existing cluster via MEET
//	tokmesh-node --version
//
// Startup order: parse the CLI, load and validate the conf file, init the
// logger, load or create this node's persisted node id, init the storage
// engine and recover its AOF/snapshot, init the pub/sub broker, init the
// cluster manager (bootstrap or join), start the peer listener, optionally
// start the metrics listener, start the client listener, then block until
// a shutdown signal runs every teardown hook in reverse registration order.
//
// Exit codes follow the conf-file directive table: 0 clean shutdown, 1
// configuration error, 2 corrupt persisted state, 3 a listener's port is
// already bound, 4 a fatal failure joining an existing cluster via MEET.
//
// @design DS-0501
package main
