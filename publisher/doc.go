// Package publisher implements the WAL Publisher described in spec
// §4.2: it layers subscriber tracking, incremental broadcast, hole-log
// propagation, and snapshot-vs-incremental catch-up decisions on top of
// a walcore.WALObject.
package publisher
