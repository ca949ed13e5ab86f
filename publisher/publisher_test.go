package publisher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liftbridge-io/walreplicate/subscriber"
	"github.com/liftbridge-io/walreplicate/walcore"
)

type testPayload struct {
	Note string
}

func newTestWAL(t *testing.T, cfg walcore.Config) *walcore.WALObject[testPayload, int, string] {
	t.Helper()
	nextKey := 0
	vt := &walcore.Vtable[testPayload, int, string]{
		KeyCompare: func(a, b int) int { return a - b },
		GetMeta: func(wal *walcore.WALObject[testPayload, int, string], log *walcore.LogRecord[testPayload, int, string]) (walcore.Meta[int, string], error) {
			return log.Meta(), nil
		},
		SetMeta: func(wal *walcore.WALObject[testPayload, int, string], log *walcore.LogRecord[testPayload, int, string], meta walcore.Meta[int, string]) {
		},
		GetLogKey: func(wal *walcore.WALObject[testPayload, int, string], log *walcore.LogRecord[testPayload, int, string]) int {
			return log.Key()
		},
		AllocateLogKey: func(wal *walcore.WALObject[testPayload, int, string], log *walcore.LogRecord[testPayload, int, string], param any) (int, error) {
			nextKey++
			return nextKey, nil
		},
		Hasher: walcore.SHA256ChainHash[testPayload, int, string](func(p testPayload) []byte { return []byte(p.Note) }),
		MergeLog: func(wal *walcore.WALObject[testPayload, int, string], param any, existing, incoming *walcore.LogRecord[testPayload, int, string]) error {
			existing.Payload.Note += "+" + incoming.Payload.Note
			return nil
		},
		DefaultDelegate: walcore.Delegate[testPayload, int, string]{
			Action: func(wal *walcore.WALObject[testPayload, int, string], log *walcore.LogRecord[testPayload, int, string], param any) (walcore.ResultCode, error) {
				return walcore.KOk, nil
			},
		},
		LogActionDelegate: map[string]walcore.Delegate[testPayload, int, string]{
			"RecursivePushBack": {
				Action: func(wal *walcore.WALObject[testPayload, int, string], log *walcore.LogRecord[testPayload, int, string], param any) (walcore.ResultCode, error) {
					follow, err := wal.AllocateLog(log.Timepoint(), "DoNothing", param, testPayload{Note: "follow-up"})
					if err != nil {
						return walcore.KCallbackError, err
					}
					return wal.EmplaceBack(follow, param)
				},
			},
		},
	}
	wal, err := walcore.NewWALObject[testPayload, int, string](vt, cfg)
	require.NoError(t, err)
	return wal
}

type sendRecord struct {
	kind string
	subs []string
	keys []int
}

func newTestPublisher(t *testing.T, wal *walcore.WALObject[testPayload, int, string], cfg Config) (*Publisher[testPayload, int, string, string], *[]sendRecord) {
	t.Helper()
	var sent []sendRecord
	vt := &Vtable[testPayload, int, string, string]{
		SendLogs: func(pub *Publisher[testPayload, int, string, string], logs []*walcore.LogRecord[testPayload, int, string], subs []*subscriber.Subscriber[string], param any) (walcore.ResultCode, error) {
			rec := sendRecord{kind: "logs"}
			for _, l := range logs {
				rec.keys = append(rec.keys, l.Key())
			}
			for _, s := range subs {
				rec.subs = append(rec.subs, s.Key)
			}
			sent = append(sent, rec)
			return walcore.KOk, nil
		},
		SendSnapshot: func(pub *Publisher[testPayload, int, string, string], subs []*subscriber.Subscriber[string], param any) (walcore.ResultCode, error) {
			rec := sendRecord{kind: "snapshot"}
			for _, s := range subs {
				rec.subs = append(rec.subs, s.Key)
			}
			sent = append(sent, rec)
			return walcore.KOk, nil
		},
	}
	pub, err := New[testPayload, int, string, string](wal, vt, cfg)
	require.NoError(t, err)
	return pub, &sent
}

func allocateAndAppend(t *testing.T, wal *walcore.WALObject[testPayload, int, string], now time.Time, action string, note string) *walcore.LogRecord[testPayload, int, string] {
	t.Helper()
	log, err := wal.AllocateLog(now, action, nil, testPayload{Note: note})
	require.NoError(t, err)
	code, err := wal.EmplaceBack(log, nil)
	require.NoError(t, err)
	require.True(t, code.IsSuccess())
	return log
}

// TestScenarioS1BasicPublishAndBroadcast implements spec §8 scenario
// S1.
func TestScenarioS1BasicPublishAndBroadcast(t *testing.T) {
	wal := newTestWAL(t, walcore.Config{})
	pub, sent := newTestPublisher(t, wal, Config{SubscriberTimeout: 5 * time.Second})

	t0 := time.Unix(0, 0)
	_, _, err := pub.CreateSubscriber("1", t0, Checkpoint[int]{Key: 0}, nil, nil)
	require.NoError(t, err)
	_, _, err = pub.CreateSubscriber("2", t0.Add(3*time.Second), Checkpoint[int]{Key: 0}, nil, nil)
	require.NoError(t, err)
	_, _, err = pub.CreateSubscriber("3", t0.Add(6*time.Second), Checkpoint[int]{Key: 0}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 3, len(pub.Subscribers()))

	allocateAndAppend(t, wal, t0, "DoNothing", "a")
	allocateAndAppend(t, wal, t0.Add(3*time.Second), "RecursivePushBack", "b")
	allocateAndAppend(t, wal, t0.Add(6*time.Second), "FallbackDefault", "c")

	require.Equal(t, 4, wal.Len(), "RecursivePushBack's action appends a follow-up record")

	*sent = nil
	n, err := pub.Broadcast(nil)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Len(t, *sent, 1)
	require.Equal(t, 4, len((*sent)[0].keys))
	require.Len(t, (*sent)[0].subs, 3)

	bound, ok := pub.BroadcastKeyBound()
	require.True(t, ok)
	require.Equal(t, wal.Back().Key(), bound)
}

// TestScenarioS2SnapshotOnStaleCheckpoint implements spec §8 scenario
// S2.
func TestScenarioS2SnapshotOnStaleCheckpoint(t *testing.T) {
	wal := newTestWAL(t, walcore.Config{GCLogSize: 0, GCExpireDuration: time.Nanosecond})
	pub, sent := newTestPublisher(t, wal, Config{SubscriberTimeout: 5 * time.Second})

	t0 := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		allocateAndAppend(t, wal, t0, "DoNothing", "x")
	}
	removed := wal.GC(t0.Add(time.Hour), nil, 2)
	require.Equal(t, 2, removed)
	lastRemoved, ok := wal.LastRemovedKey()
	require.True(t, ok)

	pub.subs.CreateOrRefresh("s", t0, 5*time.Second, nil)

	*sent = nil
	code, err := pub.ReceiveSubscribeRequest("s", Checkpoint[int]{Key: lastRemoved - 1}, t0, nil)
	require.NoError(t, err)
	require.True(t, code.IsSuccess())
	require.Len(t, *sent, 1)
	require.Equal(t, "snapshot", (*sent)[0].kind)
}

// TestScenarioS3HashMismatchForcesSnapshot implements spec §8 scenario
// S3.
func TestScenarioS3HashMismatchForcesSnapshot(t *testing.T) {
	wal := newTestWAL(t, walcore.Config{})
	pub, sent := newTestPublisher(t, wal, Config{SubscriberTimeout: 5 * time.Second})

	t0 := time.Unix(0, 0)
	var r2 *walcore.LogRecord[testPayload, int, string]
	for i := 0; i < 4; i++ {
		r := allocateAndAppend(t, wal, t0, "DoNothing", "x")
		if i == 1 {
			r2 = r
		}
	}

	pub.subs.CreateOrRefresh("s", t0, 5*time.Second, nil)

	badHash := append(walcore.Hash{}, r2.HashCode()...)
	badHash = append(badHash, 0xFF)

	*sent = nil
	code, err := pub.ReceiveSubscribeRequest("s", Checkpoint[int]{Key: r2.Key(), Hash: badHash}, t0, nil)
	require.NoError(t, err)
	require.True(t, code.IsSuccess())
	require.Len(t, *sent, 1)
	require.Equal(t, "snapshot", (*sent)[0].kind)
}

// TestScenarioS4HeartbeatExpiry implements spec §8 scenario S4, with
// the arithmetic correction documented in DESIGN.md.
func TestScenarioS4HeartbeatExpiry(t *testing.T) {
	wal := newTestWAL(t, walcore.Config{})
	pub, _ := newTestPublisher(t, wal, Config{SubscriberTimeout: 5 * time.Second})

	t0 := time.Unix(0, 0)
	pub.subs.CreateOrRefresh("1", t0, 5*time.Second, nil)
	pub.subs.CreateOrRefresh("2", t0.Add(3*time.Second), 5*time.Second, nil)
	pub.subs.CreateOrRefresh("3", t0.Add(6*time.Second), 5*time.Second, nil)

	_, err := pub.Tick(t0.Add(6*time.Second), nil, 16)
	require.NoError(t, err)

	remaining := pub.Subscribers()
	keys := make([]string, len(remaining))
	for i, s := range remaining {
		keys[i] = s.Key
	}
	require.ElementsMatch(t, []string{"2", "3"}, keys)
}

// TestScenarioS5LastBroadcastForRemovedSubscriber implements spec §8
// scenario S5.
func TestScenarioS5LastBroadcastForRemovedSubscriber(t *testing.T) {
	wal := newTestWAL(t, walcore.Config{})
	pub, sent := newTestPublisher(t, wal, Config{
		SubscriberTimeout:                       5 * time.Second,
		EnableLastBroadcastForRemovedSubscriber: true,
	})

	t0 := time.Unix(0, 0)
	pub.subs.CreateOrRefresh("surviving", t0, time.Hour, nil)
	pub.subs.CreateOrRefresh("departing", t0, time.Hour, nil)

	allocateAndAppend(t, wal, t0, "DoNothing", "x")
	*sent = nil

	pub.RemoveSubscriber("departing", nil)

	n, err := pub.Broadcast(nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var sawSurviving, sawDeparting bool
	for _, rec := range *sent {
		for _, s := range rec.subs {
			if s == "surviving" {
				sawSurviving = true
			}
			if s == "departing" {
				sawDeparting = true
			}
		}
	}
	require.True(t, sawSurviving)
	require.True(t, sawDeparting, "departing subscriber must still receive the final broadcast via the gc pool")

	// Pool is cleared after a successful flush; a second broadcast with
	// no new logs must not re-deliver to "departing".
	*sent = nil
	_, err = pub.Broadcast(nil)
	require.NoError(t, err)
	for _, rec := range *sent {
		for _, s := range rec.subs {
			require.NotEqual(t, "departing", s)
		}
	}
}
