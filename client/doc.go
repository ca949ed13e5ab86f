// Package client implements the WAL Client described in spec §4.3: the
// subscriber side of replication. It wraps a walcore.WALObject, accepts
// logs pushed by a publisher idempotently, tracks the highest finished
// log key, installs full snapshots, and periodically emits
// subscribe/heartbeat requests.
package client
