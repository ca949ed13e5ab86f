package publisher

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/liftbridge-io/walreplicate/metrics"
	"github.com/liftbridge-io/walreplicate/subscriber"
	"github.com/liftbridge-io/walreplicate/walcore"
)

// Config holds the Publisher-specific tunables from spec §4.2.
type Config struct {
	// SubscriberTimeout is the default heartbeat tolerance for a newly
	// created subscriber.
	SubscriberTimeout time.Duration

	// EnableLastBroadcastForRemovedSubscriber holds a removed
	// subscriber in a gc pool for one more broadcast round so the
	// final log(s) still reach it.
	EnableLastBroadcastForRemovedSubscriber bool

	// EnableHoleLog controls whether logs inserted below
	// broadcast_key_bound are captured for the next broadcast (true) or
	// silently skipped (false).
	EnableHoleLog bool
}

const maxGCPoolRetries = 3

// Publisher is the WAL Publisher of spec §4.2: it owns a Subscriber
// Manager and pushes a shared WALObject's new tail, plus any captured
// hole logs, out to subscribers.
type Publisher[P any, K any, A comparable, SK comparable] struct {
	wal *walcore.WALObject[P, K, A]
	vt  *Vtable[P, K, A, SK]
	cfg Config
	log *zap.Logger

	subs *subscriber.Manager[SK]
	rec  metrics.Recorder

	broadcastKeyBound *K
	holeLogs          []*walcore.LogRecord[P, K, A]
	gcPool            []*subscriber.Subscriber[SK]
}

// Option configures a Publisher beyond Config's tunables.
type Option[P any, K any, A comparable, SK comparable] func(*Publisher[P, K, A, SK])

// WithLogger attaches a zap logger. Defaults to a no-op logger.
func WithLogger[P any, K any, A comparable, SK comparable](l *zap.Logger) Option[P, K, A, SK] {
	return func(p *Publisher[P, K, A, SK]) { p.log = l }
}

// WithRecorder attaches a metrics.Recorder. Defaults to nil, in which
// case the Publisher records nothing — Prometheus stays an optional
// dependency of callers, not of this package's control flow.
func WithRecorder[P any, K any, A comparable, SK comparable](r metrics.Recorder) Option[P, K, A, SK] {
	return func(p *Publisher[P, K, A, SK]) { p.rec = r }
}

// New constructs a Publisher over an existing WALObject. Passing the
// same *walcore.WALObject to both a Publisher and a client.Client is
// exactly spec §4.2's "sharing a WAL Object with a Client": because
// both wrap the identical pointer, its Vtable and Config are
// necessarily the same instance for both — there is no separate
// "inherit" step to perform in this port, only the Publisher-specific
// Vtable below is validated.
func New[P any, K any, A comparable, SK comparable](wal *walcore.WALObject[P, K, A], vt *Vtable[P, K, A, SK], cfg Config, opts ...Option[P, K, A, SK]) (*Publisher[P, K, A, SK], error) {
	if wal == nil {
		return nil, errors.Wrap(walcore.KInitialization, "nil wal object")
	}
	if vt == nil {
		return nil, errors.Wrap(walcore.KInitialization, "nil vtable")
	}
	if err := vt.validate(); err != nil {
		return nil, errors.Wrap(err, "publisher vtable missing required callback")
	}
	p := &Publisher[P, K, A, SK]{
		wal:  wal,
		vt:   vt,
		cfg:  cfg,
		log:  zap.NewNop(),
		subs: subscriber.NewManager[SK](),
	}
	for _, opt := range opts {
		opt(p)
	}
	wal.SetInternalEventOnLogAdded(p.onLogAdded)
	wal.SetInternalEventOnAssignLogs(p.onAssignLogs)
	return p, nil
}

// WALObject returns the underlying WAL object.
func (p *Publisher[P, K, A, SK]) WALObject() *walcore.WALObject[P, K, A] { return p.wal }

// Subscribers returns a snapshot of every tracked subscriber, in
// expiry order (supplemented diagnostic, SPEC_FULL.md #4).
func (p *Publisher[P, K, A, SK]) Subscribers() []*subscriber.Subscriber[SK] {
	return p.subs.All()
}

// BroadcastKeyBound returns the greatest key already broadcast, if any.
func (p *Publisher[P, K, A, SK]) BroadcastKeyBound() (K, bool) {
	if p.broadcastKeyBound == nil {
		var zero K
		return zero, false
	}
	return *p.broadcastKeyBound, true
}

func (p *Publisher[P, K, A, SK]) onLogAdded(wal *walcore.WALObject[P, K, A], log *walcore.LogRecord[P, K, A]) {
	if !p.cfg.EnableHoleLog || p.broadcastKeyBound == nil {
		return
	}
	vt := wal.Vtable()
	if vt.KeyCompare(log.Key(), *p.broadcastKeyBound) <= 0 {
		p.holeLogs = append(p.holeLogs, log)
	}
}

func (p *Publisher[P, K, A, SK]) onAssignLogs(wal *walcore.WALObject[P, K, A]) {
	p.holeLogs = nil
	if back := wal.Back(); back != nil {
		key := back.Key()
		p.broadcastKeyBound = &key
	} else {
		p.broadcastKeyBound = nil
	}
}

// CreateSubscriber implements spec §4.2's create_subscriber: idempotent
// (re-keying refreshes timeout/heartbeat), and the call is treated as
// an implicit subscribe request from checkpoint.
func (p *Publisher[P, K, A, SK]) CreateSubscriber(key SK, now time.Time, checkpoint Checkpoint[K], param any, privateData any) (*subscriber.Subscriber[SK], walcore.ResultCode, error) {
	sub, created := p.subs.CreateOrRefresh(key, now, p.cfg.SubscriberTimeout, privateData)
	if created && p.vt.OnSubscriberAdded != nil {
		p.vt.OnSubscriberAdded(p, sub, param)
	}
	code, err := p.receiveSubscribeRequestFor(sub, checkpoint, now, param)
	return sub, code, err
}

// ReceiveSubscribeRequest implements spec §4.2's
// receive_subscribe_request.
func (p *Publisher[P, K, A, SK]) ReceiveSubscribeRequest(key SK, checkpoint Checkpoint[K], now time.Time, param any) (walcore.ResultCode, error) {
	sub := p.subs.Get(key)
	if sub == nil {
		return walcore.KSubscriberNotFound, walcore.KSubscriberNotFound
	}
	return p.receiveSubscribeRequestFor(sub, checkpoint, now, param)
}

func (p *Publisher[P, K, A, SK]) receiveSubscribeRequestFor(sub *subscriber.Subscriber[SK], checkpoint Checkpoint[K], now time.Time, param any) (walcore.ResultCode, error) {
	if p.vt.CheckSubscriber != nil && !p.vt.CheckSubscriber(p, sub, param) {
		p.removeSubscriber(sub, walcore.ReasonInvalid, param)
		return walcore.KSubscriberNotFound, walcore.KSubscriberNotFound
	}

	sub.Touch(now)
	if p.vt.OnSubscriberRequest != nil {
		p.vt.OnSubscriberRequest(p, sub, param)
	}

	if p.vt.SubscriberForceSyncSnapshot != nil && p.vt.SubscriberForceSyncSnapshot(p, sub, checkpoint.Key, checkpoint.Hash, param) {
		code, err := p.sendSnapshot(sub, param)
		if err != nil {
			return code, err
		}
		return p.reply(sub, code, param)
	}

	if lastRemoved, ok := p.wal.LastRemovedKey(); ok {
		if p.wal.Vtable().KeyCompare(checkpoint.Key, lastRemoved) < 0 {
			code, err := p.sendSnapshot(sub, param)
			if err != nil {
				return code, err
			}
			return p.reply(sub, code, param)
		}
	}

	tail, hashMismatch := p.tailAfterCheckpoint(checkpoint)
	if hashMismatch {
		code, err := p.sendSnapshot(sub, param)
		if err != nil {
			return code, err
		}
		return p.reply(sub, code, param)
	}
	if len(tail) == 0 {
		return p.reply(sub, walcore.KOk, param)
	}
	code, err := p.vt.SendLogs(p, tail, []*subscriber.Subscriber[SK]{sub}, param)
	if err != nil {
		return code, err
	}
	return p.reply(sub, code, param)
}

// tailAfterCheckpoint resolves spec §4.2 step 6: find the exact match
// for checkpoint.Key; verify its hash if the caller offered one — a
// mismatch is reported via the second return value and forces a
// snapshot. If there's no exact match, the lower bound is already the
// first record greater than checkpoint.Key, which is the tail.
func (p *Publisher[P, K, A, SK]) tailAfterCheckpoint(checkpoint Checkpoint[K]) (tail []*walcore.LogRecord[P, K, A], hashMismatch bool) {
	if rec := p.wal.Find(checkpoint.Key); rec != nil {
		if len(checkpoint.Hash) > 0 && !rec.HashCode().Equal(checkpoint.Hash) {
			return nil, true
		}
		return p.wal.UpperBound(checkpoint.Key), false
	}
	return p.wal.LowerBound(checkpoint.Key), false
}

func (p *Publisher[P, K, A, SK]) sendSnapshot(sub *subscriber.Subscriber[SK], param any) (walcore.ResultCode, error) {
	code, err := p.vt.SendSnapshot(p, []*subscriber.Subscriber[SK]{sub}, param)
	if err == nil && code.IsSuccess() && p.rec != nil {
		p.rec.SnapshotsSent(1)
	}
	return code, err
}

func (p *Publisher[P, K, A, SK]) reply(sub *subscriber.Subscriber[SK], code walcore.ResultCode, param any) (walcore.ResultCode, error) {
	if p.vt.SubscribeResponse == nil {
		return code, nil
	}
	return p.vt.SubscribeResponse(p, sub, code, param)
}

// Broadcast implements spec §4.2's broadcast: walks the new tail (plus
// any captured hole logs), sends both to every tracked subscriber and
// to the gc pool of recently removed subscribers, advances
// broadcast_key_bound, and returns the number of logs dispatched.
func (p *Publisher[P, K, A, SK]) Broadcast(param any) (int, error) {
	tail := p.newTail()
	hole := p.holeLogs

	subs := p.subs.All()
	if len(subs) > 0 {
		if len(tail) > 0 {
			if code, err := p.vt.SendLogs(p, tail, subs, param); err != nil || !code.IsSuccess() {
				return 0, errOrCode(err, code)
			}
			if p.rec != nil {
				p.rec.BroadcastsSent(1)
			}
		}
		if len(hole) > 0 {
			if code, err := p.vt.SendLogs(p, hole, subs, param); err != nil || !code.IsSuccess() {
				return 0, errOrCode(err, code)
			}
			if p.rec != nil {
				p.rec.BroadcastsSent(1)
			}
		}
	}

	if p.cfg.EnableLastBroadcastForRemovedSubscriber {
		if err := p.flushGCPool(tail, hole, param); err != nil {
			return 0, err
		}
	}

	count := len(tail) + len(hole)
	if len(tail) > 0 {
		key := tail[len(tail)-1].Key()
		p.broadcastKeyBound = &key
	}
	p.holeLogs = nil
	return count, nil
}

func (p *Publisher[P, K, A, SK]) newTail() []*walcore.LogRecord[P, K, A] {
	if p.broadcastKeyBound == nil {
		return p.wal.AllLogs()
	}
	return p.wal.UpperBound(*p.broadcastKeyBound)
}

func (p *Publisher[P, K, A, SK]) flushGCPool(tail, hole []*walcore.LogRecord[P, K, A], param any) error {
	if len(p.gcPool) == 0 {
		return nil
	}
	if len(tail) == 0 && len(hole) == 0 {
		return nil
	}
	for attempt := 0; attempt < maxGCPoolRetries; attempt++ {
		pool := p.gcPool
		ok := true
		if len(tail) > 0 {
			if code, err := p.vt.SendLogs(p, tail, pool, param); err != nil || !code.IsSuccess() {
				ok = false
			}
		}
		if ok && len(hole) > 0 {
			if code, err := p.vt.SendLogs(p, hole, pool, param); err != nil || !code.IsSuccess() {
				ok = false
			}
		}
		if ok {
			p.gcPool = nil
			return nil
		}
		// p.gcPool itself may have grown if a send callback
		// synchronously removed more subscribers; re-reading it at the
		// top of the next loop iteration picks those up, which is the
		// "merge with any newly removed subscribers" rule of spec §4.2.
	}
	return nil
}

func errOrCode(err error, code walcore.ResultCode) error {
	if err != nil {
		return err
	}
	return code
}

func (p *Publisher[P, K, A, SK]) removeSubscriber(sub *subscriber.Subscriber[SK], reason walcore.UnsubscribeReason, param any) {
	p.subs.Remove(sub.Key)
	if p.cfg.EnableLastBroadcastForRemovedSubscriber {
		p.gcPool = append(p.gcPool, sub)
	}
	if p.vt.OnSubscriberRemoved != nil {
		p.vt.OnSubscriberRemoved(p, sub, reason, param)
	}
}

// RemoveSubscriber removes key with ReasonClientRequest, for explicit
// unsubscribe calls (spec §3's lifecycle).
func (p *Publisher[P, K, A, SK]) RemoveSubscriber(key SK, param any) bool {
	sub := p.subs.Get(key)
	if sub == nil {
		return false
	}
	p.removeSubscriber(sub, walcore.ReasonClientRequest, param)
	return true
}

// Tick implements spec §4.2's tick: round-robins broadcast, GC (bounded
// above by broadcast_key_bound so it never collects un-broadcast logs),
// and subscriber expiry, capped overall by maxEvents.
func (p *Publisher[P, K, A, SK]) Tick(now time.Time, param any, maxEvents int) (int, error) {
	if maxEvents <= 0 {
		maxEvents = 256
	}
	perKind := maxEvents / 16
	if perKind < 1 {
		perKind = 1
	}

	processed := 0
	for processed < maxEvents {
		roundEvents := 0

		n, err := p.Broadcast(param)
		if err != nil {
			return processed, err
		}
		roundEvents += n
		processed += n

		removed := p.wal.GC(now, p.broadcastKeyBound, perKind)
		if removed > 0 && p.rec != nil {
			p.rec.GCRemoved(removed)
		}
		roundEvents += removed
		processed += removed

		expired := p.expireSubscribers(now, perKind, param)
		roundEvents += expired
		processed += expired

		if roundEvents == 0 {
			break
		}
	}
	if p.rec != nil {
		p.rec.SubscribersActive(p.subs.Len())
	}
	return processed, nil
}

func (p *Publisher[P, K, A, SK]) expireSubscribers(now time.Time, max int, param any) int {
	expired := p.subs.Expired(now)
	if len(expired) > max {
		expired = expired[:max]
	}
	for _, sub := range expired {
		p.removeSubscriber(sub, walcore.ReasonTimeout, param)
	}
	return len(expired)
}
