package client

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/liftbridge-io/walreplicate/metrics"
	"github.com/liftbridge-io/walreplicate/walcore"
)

// Config holds the Client-specific tunables from spec §4.3.
type Config struct {
	// HeartbeatInterval is the cadence for outbound subscribe requests
	// after a success.
	HeartbeatInterval time.Duration

	// HeartbeatRetryInterval is the cadence after a failed send.
	HeartbeatRetryInterval time.Duration
}

// Client is the WAL Client of spec §4.3: it applies a publisher's logs
// idempotently onto a shared WALObject, tracks the highest finished log
// key, installs snapshots, and drives a heartbeat loop.
type Client[P any, K any, A comparable] struct {
	wal *walcore.WALObject[P, K, A]
	vt  *Vtable[P, K, A]
	cfg Config
	log *zap.Logger
	rec metrics.Recorder

	lastFinishedLogKey *K
	nextHeartbeat      time.Time
}

// Option configures a Client beyond Config's tunables.
type Option[P any, K any, A comparable] func(*Client[P, K, A])

// WithLogger attaches a zap logger. Defaults to a no-op logger.
func WithLogger[P any, K any, A comparable](l *zap.Logger) Option[P, K, A] {
	return func(c *Client[P, K, A]) { c.log = l }
}

// WithRecorder attaches a metrics.Recorder. Defaults to nil, in which
// case the Client records nothing.
func WithRecorder[P any, K any, A comparable](r metrics.Recorder) Option[P, K, A] {
	return func(c *Client[P, K, A]) { c.rec = r }
}

// New constructs a Client over an existing WALObject. Passing the same
// *walcore.WALObject to both a publisher.Publisher and a Client is
// spec §4.2's "sharing a WAL Object with a Client": the Publisher
// registers assign-logs and log-added hooks on construction and the
// Client an assign-logs hook, and since
// walcore.WALObject keeps a slice per hook slot (spec §9 OQ1) neither
// registration clobbers the other.
func New[P any, K any, A comparable](wal *walcore.WALObject[P, K, A], vt *Vtable[P, K, A], cfg Config, opts ...Option[P, K, A]) (*Client[P, K, A], error) {
	if wal == nil {
		return nil, errors.Wrap(walcore.KInitialization, "nil wal object")
	}
	if vt == nil {
		return nil, errors.Wrap(walcore.KInitialization, "nil vtable")
	}
	if err := vt.validate(); err != nil {
		return nil, errors.Wrap(err, "client vtable missing required callback")
	}
	c := &Client[P, K, A]{
		wal: wal,
		vt:  vt,
		cfg: cfg,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	wal.SetInternalEventOnAssignLogs(c.onAssignLogs)
	return c, nil
}

// WALObject returns the underlying WAL object.
func (c *Client[P, K, A]) WALObject() *walcore.WALObject[P, K, A] { return c.wal }

// LastFinishedLogKey returns the greatest key this client has observed
// from its publisher, if any.
func (c *Client[P, K, A]) LastFinishedLogKey() (K, bool) {
	if c.lastFinishedLogKey == nil {
		var zero K
		return zero, false
	}
	return *c.lastFinishedLogKey, true
}

// onAssignLogs is the hook spec §4.3 describes under receive_snapshot:
// "automatically updates last_finished_log_key to the greatest key in
// the new set."
func (c *Client[P, K, A]) onAssignLogs(wal *walcore.WALObject[P, K, A]) {
	back := wal.Back()
	if back == nil {
		c.lastFinishedLogKey = nil
		return
	}
	key := back.Key()
	c.lastFinishedLogKey = &key
	if c.rec != nil {
		if f, ok := any(key).(float64); ok {
			c.rec.LastFinishedLogKey(f)
		} else if n, ok := any(key).(int); ok {
			c.rec.LastFinishedLogKey(float64(n))
		}
	}
}

// ReceiveLog implements spec §4.3's receive_log.
func (c *Client[P, K, A]) ReceiveLog(log *walcore.LogRecord[P, K, A], param any) (walcore.ResultCode, error) {
	if log == nil {
		return walcore.KInvalidParam, walcore.KInvalidParam
	}
	key := log.Key()
	if c.lastFinishedLogKey != nil {
		if c.wal.Vtable().KeyCompare(key, *c.lastFinishedLogKey) <= 0 {
			if c.rec != nil {
				c.rec.LogsIgnored(1)
			}
			return walcore.KIgnore, nil
		}
	}
	c.lastFinishedLogKey = &key
	if c.rec != nil {
		if f, ok := any(key).(float64); ok {
			c.rec.LastFinishedLogKey(f)
		} else if n, ok := any(key).(int); ok {
			c.rec.LastFinishedLogKey(float64(n))
		}
	}
	code, err := c.wal.EmplaceBack(log, param)
	if c.rec != nil && err == nil && code.IsSuccess() {
		c.rec.LogsAppended(1)
	}
	return code, err
}

// ReceiveLogs implements spec §4.3's receive_logs: iterates ReceiveLog,
// counting Ok results. A log that errors does not abort the remaining
// range.
func (c *Client[P, K, A]) ReceiveLogs(logs []*walcore.LogRecord[P, K, A], param any) (int, error) {
	okCount := 0
	var firstErr error
	for _, log := range logs {
		code, err := c.ReceiveLog(log, param)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if code == walcore.KOk {
			okCount++
		}
	}
	return okCount, firstErr
}

// ReceiveSnapshot implements spec §4.3's receive_snapshot: invokes the
// snapshot callback, which is expected to AssignLogs the client's WAL
// object; the onAssignLogs hook above then updates
// last_finished_log_key.
func (c *Client[P, K, A]) ReceiveSnapshot(snapshot any, param any) (walcore.ResultCode, error) {
	return c.vt.OnReceiveSnapshot(c, snapshot, param)
}

// Tick implements spec §4.3's tick: when now has reached the next
// scheduled heartbeat, emits one subscribe_request; success reschedules
// at now+HeartbeatInterval, failure reschedules sooner at
// now+HeartbeatRetryInterval.
func (c *Client[P, K, A]) Tick(now time.Time, param any) (bool, error) {
	if now.Before(c.nextHeartbeat) {
		return false, nil
	}
	code, err := c.vt.SubscribeRequest(c, param)
	if err != nil || !code.IsSuccess() {
		c.nextHeartbeat = now.Add(c.cfg.HeartbeatRetryInterval)
		return false, err
	}
	if c.rec != nil {
		c.rec.HeartbeatsSent(1)
	}
	c.nextHeartbeat = now.Add(c.cfg.HeartbeatInterval)
	return true, nil
}

// Stats is a supplemented diagnostic (SPEC_FULL.md #5): a point-in-time
// snapshot of client progress for monitoring/metrics wiring.
type Stats[K any] struct {
	LastFinishedLogKey K
	HasFinishedLogKey  bool
	LogCount           int
}

// Stats returns a snapshot of the client's current progress.
func (c *Client[P, K, A]) Stats() Stats[K] {
	key, ok := c.LastFinishedLogKey()
	return Stats[K]{
		LastFinishedLogKey: key,
		HasFinishedLogKey:  ok,
		LogCount:           c.wal.Len(),
	}
}
