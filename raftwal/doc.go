// Package raftwal adapts a walcore.WALObject to hashicorp/raft's
// raft.FSM interface (SPEC_FULL.md's domain-stack wiring for
// hashicorp/raft). It is a thin optional layer: the core packages
// (walcore, publisher, client) know nothing about Raft or consensus,
// which spec §1 places out of scope. raftwal only exists so a caller
// who already runs a Raft group can apply committed entries onto a
// WALObject and snapshot/restore it through Raft's own mechanism,
// mirroring the liftbridge controller FSM this package is grounded on.
package raftwal
