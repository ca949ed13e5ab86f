// Package walcore implements the write-ahead log object described in
// the distributed_system WAL replication core: an ordered, hash-chained
// sequence of application-defined log records, dispatched through a
// user-supplied action table, with time- and size-based garbage
// collection and reentrancy-safe appends.
//
// # Architecture
//
// A WALObject owns a single ordered container of *LogRecord values. It
// never performs I/O and never blocks: every side effect (persisting a
// record, looking up a key, hashing a payload) is delegated to a
// Vtable supplied at construction. Two sibling packages build on top of
// WALObject: publisher.Publisher fans new records out to subscribers,
// and client.Client ingests records pushed by a publisher.
//
// # Reentrancy
//
// Exactly one EmplaceBack call is "active" on a WALObject at a time.
// An action callback that itself calls EmplaceBack does not recurse;
// the nested call is queued and drained once the active call's own
// work finishes, preserving the order in which appends were requested.
package walcore
