package raftwal

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/hashicorp/raft"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/liftbridge-io/walreplicate/walcore"
)

// SnapshotEntry is one record's applied fields, the form DecodeSnapshot
// hands back rather than a *walcore.LogRecord directly: constructing a
// LogRecord with an explicit key is a walcore-internal operation (done
// via WALObject.AllocateLog), so Restore rebuilds each record itself
// through the wrapped WALObject rather than the codec fabricating one.
type SnapshotEntry[P any, K any, A comparable] struct {
	Payload P
	Key     K
	Action  A
}

// Codec encodes and decodes a log record's (payload, key, action-case)
// for transmission through Raft's log, and a full snapshot image for
// Raft's snapshot/restore mechanism.
type Codec[P any, K any, A comparable] struct {
	// EncodeEntry/DecodeEntry round-trip one record's applied fields
	// for raft.Log.Data. Both required.
	EncodeEntry func(payload P, key K, action A) ([]byte, error)
	DecodeEntry func(data []byte) (payload P, key K, action A, err error)

	// EncodeSnapshot/DecodeSnapshot round-trip the full live record
	// set for Raft's Persist/Restore. Both required.
	EncodeSnapshot func(records []*walcore.LogRecord[P, K, A]) ([]byte, error)
	DecodeSnapshot func(data []byte) ([]SnapshotEntry[P, K, A], error)
}

// forcedKeyParam is threaded through AllocateLog as the param argument
// so a Vtable's AllocateLogKey callback can recognize a Raft-committed
// entry and return its already-decided key verbatim instead of minting
// a fresh one. A WALObject shared with raftwal.FSM must special-case
// this type in AllocateLogKey; see ForcedKey.
type forcedKeyParam[K any] struct {
	key K
}

// ForcedKey extracts the key a forcedKeyParam carries, for use inside a
// Vtable's AllocateLogKey callback. The second return is false for any
// other param value, in which case AllocateLogKey should allocate a key
// itself as usual.
func ForcedKey[K any](param any) (K, bool) {
	if p, ok := param.(forcedKeyParam[K]); ok {
		return p.key, true
	}
	var zero K
	return zero, false
}

// FSM adapts a walcore.WALObject to raft.FSM. Apply, Snapshot, and
// Restore are invoked by Raft itself and must not be called
// concurrently with any other driver of the wrapped WALObject — this
// mirrors the liftbridge controller FSM's "Apply is not called
// concurrently with the rest of the server" contract, grounded on
// server/fsm.go.
type FSM[P any, K any, A comparable] struct {
	wal   *walcore.WALObject[P, K, A]
	codec Codec[P, K, A]
	log   *zap.Logger
}

// New constructs an FSM over wal. codec's four fields are all required.
func New[P any, K any, A comparable](wal *walcore.WALObject[P, K, A], codec Codec[P, K, A], logger *zap.Logger) (*FSM[P, K, A], error) {
	if wal == nil {
		return nil, errors.Wrap(walcore.KInitialization, "nil wal object")
	}
	if codec.EncodeEntry == nil || codec.DecodeEntry == nil || codec.EncodeSnapshot == nil || codec.DecodeSnapshot == nil {
		return nil, errors.Wrap(walcore.KInitialization, "codec missing required callback")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FSM[P, K, A]{wal: wal, codec: codec, log: logger}, nil
}

// WALObject returns the underlying WAL object.
func (f *FSM[P, K, A]) WALObject() *walcore.WALObject[P, K, A] { return f.wal }

// Apply decodes a committed Raft log entry and installs it onto the
// WAL object, forcing the entry's key rather than minting a new one so
// every replica of the Raft group lands on the identical key. Apply is
// idempotent the same way the teacher's: replaying an already-applied
// index during Raft's own recovery simply re-runs EmplaceBack, which
// never inserts a duplicate: walcore reports kMerge when the Vtable
// sets MergeLog (kCallbackError when it does not), or kIgnore for a
// key at or below the global ignore key.
func (f *FSM[P, K, A]) Apply(l *raft.Log) interface{} {
	payload, key, action, err := f.codec.DecodeEntry(l.Data)
	if err != nil {
		return errors.Wrap(err, "raftwal: decode entry")
	}
	now := time.Unix(0, int64(l.Index))
	rec, err := f.wal.AllocateLog(now, action, forcedKeyParam[K]{key: key}, payload)
	if err != nil {
		return errors.Wrap(err, "raftwal: allocate log")
	}
	code, err := f.wal.EmplaceBack(rec, forcedKeyParam[K]{key: key})
	if err != nil {
		return errors.Wrap(err, "raftwal: emplace_back")
	}
	return code
}

// fsmSnapshot is returned by Snapshot in response to Raft's own
// snapshot request; Persist must remain safe to call concurrently with
// further Apply calls, which is why it captures the encoded bytes
// up front rather than referencing the live WALObject.
type fsmSnapshot struct {
	data []byte
}

// Persist writes a length-prefixed snapshot image to sink, matching the
// wire framing server/fsm.go uses for the controller's own snapshots.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		sizeBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(sizeBuf, uint32(len(s.data)))
		if _, err := sink.Write(sizeBuf); err != nil {
			return err
		}
		if _, err := sink.Write(s.data); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is invoked when Raft is finished with the snapshot.
func (s *fsmSnapshot) Release() {}

// Snapshot captures the WAL object's current live record set for Raft's
// log compaction.
func (f *FSM[P, K, A]) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.codec.EncodeSnapshot(f.wal.AllLogs())
	if err != nil {
		return nil, errors.Wrap(err, "raftwal: encode snapshot")
	}
	return &fsmSnapshot{data: data}, nil
}

// Restore replaces the WAL object's entire live set from a Raft
// snapshot via AssignLogs, which also re-chains hashes from scratch.
func (f *FSM[P, K, A]) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()
	sizeBuf := make([]byte, 4)
	if _, err := io.ReadFull(snapshot, sizeBuf); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(sizeBuf)
	buf := make([]byte, size)
	if _, err := io.ReadFull(snapshot, buf); err != nil {
		return err
	}
	entries, err := f.codec.DecodeSnapshot(buf)
	if err != nil {
		return errors.Wrap(err, "raftwal: decode snapshot")
	}
	records := make([]*walcore.LogRecord[P, K, A], 0, len(entries))
	for _, e := range entries {
		rec, err := f.wal.AllocateLog(time.Time{}, e.Action, forcedKeyParam[K]{key: e.Key}, e.Payload)
		if err != nil {
			return errors.Wrap(err, "raftwal: rebuild restored record")
		}
		records = append(records, rec)
	}
	f.log.Debug("restoring wal state from raft snapshot")
	f.wal.AssignLogs(records)
	return nil
}
