package walcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Note string
}

func newTestWAL(t *testing.T, cfg Config) (*WALObject[testPayload, int, string], *int) {
	t.Helper()
	nextKey := 0
	vt := &Vtable[testPayload, int, string]{
		KeyCompare: func(a, b int) int { return a - b },
		GetMeta: func(wal *WALObject[testPayload, int, string], log *LogRecord[testPayload, int, string]) (Meta[int, string], error) {
			return log.Meta(), nil
		},
		SetMeta: func(wal *WALObject[testPayload, int, string], log *LogRecord[testPayload, int, string], meta Meta[int, string]) {
		},
		GetLogKey: func(wal *WALObject[testPayload, int, string], log *LogRecord[testPayload, int, string]) int {
			return log.Key()
		},
		AllocateLogKey: func(wal *WALObject[testPayload, int, string], log *LogRecord[testPayload, int, string], param any) (int, error) {
			if forced, ok := param.(int); ok {
				return forced, nil
			}
			nextKey++
			return nextKey, nil
		},
		Hasher: SHA256ChainHash[testPayload, int, string](func(p testPayload) []byte { return []byte(p.Note) }),
		MergeLog: func(wal *WALObject[testPayload, int, string], param any, existing, incoming *LogRecord[testPayload, int, string]) error {
			existing.Payload.Note += "+" + incoming.Payload.Note
			return nil
		},
		DefaultDelegate: Delegate[testPayload, int, string]{
			Action: func(wal *WALObject[testPayload, int, string], log *LogRecord[testPayload, int, string], param any) (ResultCode, error) {
				return KOk, nil
			},
		},
		LogActionDelegate: map[string]Delegate[testPayload, int, string]{
			"AppendFollowUp": {
				Action: func(wal *WALObject[testPayload, int, string], log *LogRecord[testPayload, int, string], param any) (ResultCode, error) {
					follow, err := wal.AllocateLog(log.Timepoint(), "DoNothing", nil, testPayload{Note: "follow-up"})
					if err != nil {
						return KCallbackError, err
					}
					return wal.EmplaceBack(follow, param)
				},
			},
			"Fail": {
				Action: func(wal *WALObject[testPayload, int, string], log *LogRecord[testPayload, int, string], param any) (ResultCode, error) {
					return KCallbackError, KCallbackError
				},
			},
		},
	}
	wal, err := NewWALObject[testPayload, int, string](vt, cfg)
	require.NoError(t, err)
	return wal, &nextKey
}

func appendNote(t *testing.T, wal *WALObject[testPayload, int, string], now time.Time, action, note string) *LogRecord[testPayload, int, string] {
	t.Helper()
	log, err := wal.AllocateLog(now, action, nil, testPayload{Note: note})
	require.NoError(t, err)
	_, err = wal.EmplaceBack(log, nil)
	require.NoError(t, err)
	return log
}

// TestKeyOrdering covers universal property 1.
func TestKeyOrdering(t *testing.T) {
	wal, _ := newTestWAL(t, Config{})
	t0 := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		appendNote(t, wal, t0, "DoNothing", "x")
	}
	logs := wal.AllLogs()
	for i := 1; i < len(logs); i++ {
		require.Less(t, logs[i-1].Key(), logs[i].Key())
	}
}

// TestHashChaining covers universal property 2.
func TestHashChaining(t *testing.T) {
	wal, _ := newTestWAL(t, Config{})
	t0 := time.Unix(0, 0)
	for i := 0; i < 4; i++ {
		appendNote(t, wal, t0, "DoNothing", "x")
	}
	logs := wal.AllLogs()
	prev := Hash(nil)
	hasher := wal.Vtable().Hasher
	for _, r := range logs {
		expect := hasher.Calculate(prev, r)
		require.True(t, expect.Equal(r.HashCode()))
		prev = r.HashCode()
	}
}

// TestMergeLaw covers universal property 4.
func TestMergeLaw(t *testing.T) {
	wal, _ := newTestWAL(t, Config{})
	t0 := time.Unix(0, 0)
	appendNote(t, wal, t0, "DoNothing", "a")
	require.Equal(t, 1, wal.Len())

	log, err := wal.AllocateLog(t0, "DoNothing", 1, testPayload{Note: "b"})
	require.NoError(t, err)
	code, err := wal.EmplaceBack(log, nil)
	require.NoError(t, err)
	require.Equal(t, KMerge, code)
	require.Equal(t, 1, wal.Len(), "merge must not change the log count")
	require.Equal(t, "a+b", wal.Front().Payload.Note)
}

// TestGCLowerBound covers universal property 5.
func TestGCLowerBound(t *testing.T) {
	wal, _ := newTestWAL(t, Config{GCLogSize: 2, GCExpireDuration: time.Nanosecond})
	t0 := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		appendNote(t, wal, t0, "DoNothing", "x")
	}
	removed := wal.GC(t0.Add(time.Hour), nil, 10)
	require.Equal(t, 3, removed)
	require.Equal(t, 2, wal.Len(), "GC must never shrink below GCLogSize")
}

func TestGCHonorsHold(t *testing.T) {
	wal, _ := newTestWAL(t, Config{GCLogSize: 0, GCExpireDuration: time.Nanosecond})
	t0 := time.Unix(0, 0)
	var keys []int
	for i := 0; i < 4; i++ {
		r := appendNote(t, wal, t0, "DoNothing", "x")
		keys = append(keys, r.Key())
	}
	hold := keys[1]
	removed := wal.GC(t0.Add(time.Hour), &hold, 10)
	require.Equal(t, 1, removed, "GC must stop before popping a record at or above hold")
	require.Equal(t, hold, wal.Front().Key())
}

// TestReentrancyPreservesOrder covers universal property 8 through the
// added hooks: the outer log's on_log_added fires before that of the
// follow-up log its action appended.
func TestReentrancyPreservesOrder(t *testing.T) {
	wal, _ := newTestWAL(t, Config{})
	var order []string
	wal.SetInternalEventOnLogAdded(func(w *WALObject[testPayload, int, string], log *LogRecord[testPayload, int, string]) {
		order = append(order, "added:"+log.Payload.Note)
	})

	t0 := time.Unix(0, 0)
	appendNote(t, wal, t0, "AppendFollowUp", "outer")

	require.Equal(t, []string{"added:outer", "added:follow-up"}, order)
}

// TestAssignLogsRestoresState covers universal property 7 by assigning
// one object's live records to a fresh object with AssignLogs and
// comparing keys and re-chained hashes.
func TestAssignLogsRestoresState(t *testing.T) {
	wal1, _ := newTestWAL(t, Config{})
	t0 := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		appendNote(t, wal1, t0, "DoNothing", "x")
	}

	wal2, _ := newTestWAL(t, Config{})
	wal2.AssignLogs(wal1.AllLogs())

	logs1, logs2 := wal1.AllLogs(), wal2.AllLogs()
	require.Equal(t, len(logs1), len(logs2))
	for i := range logs1 {
		require.Equal(t, logs1[i].Key(), logs2[i].Key())
		require.True(t, logs1[i].HashCode().Equal(logs2[i].HashCode()))
	}
}

// TestAcceptLogWhenHashMatchedTolerance exercises the
// AcceptLogWhenHashMatched config: a record stamped with a hash that
// matches the freshly computed chain value is still installed even
// though its action fails.
func TestAcceptLogWhenHashMatchedTolerance(t *testing.T) {
	wal, _ := newTestWAL(t, Config{AcceptLogWhenHashMatched: true})
	t0 := time.Unix(0, 0)

	log, err := wal.AllocateLog(t0, "Fail", nil, testPayload{Note: "x"})
	require.NoError(t, err)
	// Pre-stamp the hash exactly as the chain will compute it, simulating
	// a publisher shipping an already-hashed record to this client.
	log.SetHashCode(wal.Vtable().Hasher.Calculate(wal.initialHash, log))

	code, err := wal.EmplaceBack(log, nil)
	require.Error(t, err)
	require.Equal(t, KCallbackError, code)
	require.Equal(t, 1, wal.Len(), "a hash-matched record is installed despite the action error")
}

func TestAcceptLogWhenHashMatchedRejectsMismatch(t *testing.T) {
	wal, _ := newTestWAL(t, Config{AcceptLogWhenHashMatched: true})
	t0 := time.Unix(0, 0)

	log, err := wal.AllocateLog(t0, "Fail", nil, testPayload{Note: "x"})
	require.NoError(t, err)
	log.SetHashCode(Hash{0xDE, 0xAD})

	code, err := wal.EmplaceBack(log, nil)
	require.Error(t, err)
	require.Equal(t, KCallbackError, code)
	require.Equal(t, 0, wal.Len(), "a hash-mismatched record must not be tolerated")
}

func TestGlobalIgnoreKey(t *testing.T) {
	wal, _ := newTestWAL(t, Config{})
	_, ok := wal.GlobalIgnoreKey()
	require.False(t, ok)

	wal.SetGlobalIgnoreKey(5)
	key, ok := wal.GlobalIgnoreKey()
	require.True(t, ok)
	require.Equal(t, 5, key)
}

// TestGlobalIgnoreKeySkipsTopLevelAppend covers the ingest-watermark
// invariant of spec §3: a key at or below the global ignore watermark
// must be dropped on the ordinary, non-reentrant EmplaceBack path, not
// only when drained from the pending queue.
func TestGlobalIgnoreKeySkipsTopLevelAppend(t *testing.T) {
	wal, _ := newTestWAL(t, Config{})
	t0 := time.Unix(0, 0)
	appendNote(t, wal, t0, "DoNothing", "a")
	appendNote(t, wal, t0, "DoNothing", "b")
	require.Equal(t, 2, wal.Len())

	wal.SetGlobalIgnoreKey(5)

	log, err := wal.AllocateLog(t0, "DoNothing", 3, testPayload{Note: "ignored"})
	require.NoError(t, err)
	code, err := wal.EmplaceBack(log, nil)
	require.NoError(t, err)
	require.Equal(t, KIgnore, code)
	require.Equal(t, 2, wal.Len())
}

func TestFindAndBounds(t *testing.T) {
	wal, _ := newTestWAL(t, Config{})
	t0 := time.Unix(0, 0)
	var keys []int
	for i := 0; i < 5; i++ {
		keys = append(keys, appendNote(t, wal, t0, "DoNothing", "x").Key())
	}

	mid := keys[2]
	require.NotNil(t, wal.Find(mid))
	require.Nil(t, wal.Find(-1))

	lower := wal.LowerBound(mid)
	require.Equal(t, mid, lower[0].Key())

	upper := wal.UpperBound(mid)
	require.Equal(t, keys[3], upper[0].Key())
}
