package walcore

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type pendingAppend[P any, K any, A comparable] struct {
	log   *LogRecord[P, K, A]
	param any
}

// WALObject is the ordered log store described in spec §4.1: it owns
// the log container, dispatches record actions through a Vtable, keeps
// the chained hash, runs GC, and drains reentrant appends in order.
//
// A WALObject is not safe for concurrent use from multiple goroutines
// without external synchronization (spec §5): exactly one logical
// caller drives it at a time.
type WALObject[P any, K any, A comparable] struct {
	cfg Config
	vt  *Vtable[P, K, A]
	log *zap.Logger

	container *logContainer[P, K, A]

	lastRemovedKey  *K
	globalIgnoreKey *K
	initialHash     Hash

	inAction bool
	pending  []pendingAppend[P, K, A]

	// onAssignLogsHooks / onLogAddedHooks are the two OQ1 slots (spec
	// §9): each is a list rather than a single func so that a process
	// acting as both Publisher and Client over one shared WALObject can
	// register its own hook into each slot without clobbering the
	// other's.
	onAssignLogsHooks []func(*WALObject[P, K, A])
	onLogAddedHooks   []func(*WALObject[P, K, A], *LogRecord[P, K, A])
}

// WALObjectOption configures a WALObject at construction time, beyond
// Config's tunables.
type WALObjectOption[P any, K any, A comparable] func(*WALObject[P, K, A])

// WithLogger attaches a zap logger. Defaults to a no-op logger.
func WithLogger[P any, K any, A comparable](l *zap.Logger) WALObjectOption[P, K, A] {
	return func(w *WALObject[P, K, A]) { w.log = l }
}

// WithInitialHash sets the hash fed to the first record of an
// otherwise-empty chain. Defaults to an empty Hash.
func WithInitialHash[P any, K any, A comparable](h Hash) WALObjectOption[P, K, A] {
	return func(w *WALObject[P, K, A]) { w.initialHash = h }
}

// NewWALObject constructs a WALObject from a v-table and configuration,
// per spec §4.1's factory contract: it fails (returns a KInitialization
// error) if vt is nil or missing GetMeta/GetLogKey/KeyCompare.
func NewWALObject[P any, K any, A comparable](vt *Vtable[P, K, A], cfg Config, opts ...WALObjectOption[P, K, A]) (*WALObject[P, K, A], error) {
	if vt == nil {
		return nil, errors.Wrap(KInitialization, "nil vtable")
	}
	if err := vt.validate(); err != nil {
		return nil, errors.Wrap(err, "vtable missing required callback")
	}
	w := &WALObject[P, K, A]{
		cfg:       cfg,
		vt:        vt,
		log:       zap.NewNop(),
		container: newLogContainer[P, K, A](vt.KeyCompare),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Config returns the object's configuration.
func (w *WALObject[P, K, A]) Config() Config { return w.cfg }

// Vtable returns the object's callback bundle, exported so layered
// Publisher/Client constructors can validate and inherit fields per
// spec §4.2's "sharing a WAL Object" rule.
func (w *WALObject[P, K, A]) Vtable() *Vtable[P, K, A] { return w.vt }

// SetInternalEventOnAssignLogs installs the hook fired once per
// AssignLogs call. This is distinct from SetInternalEventOnLogAdded —
// per spec §9 OQ1, both slots are preserved rather than one replacing
// the other.
func (w *WALObject[P, K, A]) SetInternalEventOnAssignLogs(fn func(*WALObject[P, K, A])) {
	w.onAssignLogsHooks = append(w.onAssignLogsHooks, fn)
}

// SetInternalEventOnLogAdded installs the hook fired per record added,
// including records introduced via AssignLogs. See
// SetInternalEventOnAssignLogs for the OQ1 resolution.
func (w *WALObject[P, K, A]) SetInternalEventOnLogAdded(fn func(*WALObject[P, K, A], *LogRecord[P, K, A])) {
	w.onLogAddedHooks = append(w.onLogAddedHooks, fn)
}

// LastRemovedKey returns the greatest key popped by GC so far, if any.
func (w *WALObject[P, K, A]) LastRemovedKey() (K, bool) {
	if w.lastRemovedKey == nil {
		var zero K
		return zero, false
	}
	return *w.lastRemovedKey, true
}

// GlobalIgnoreKey returns the greatest key the object discards on
// ingest as "already seen", if set.
func (w *WALObject[P, K, A]) GlobalIgnoreKey() (K, bool) {
	if w.globalIgnoreKey == nil {
		var zero K
		return zero, false
	}
	return *w.globalIgnoreKey, true
}

// SetGlobalIgnoreKey sets the ingest watermark described in spec §3.
func (w *WALObject[P, K, A]) SetGlobalIgnoreKey(key K) {
	k := key
	w.globalIgnoreKey = &k
}

// Len returns the number of live records.
func (w *WALObject[P, K, A]) Len() int { return w.container.Len() }

// AllLogs returns a snapshot of every live record in ascending key order.
func (w *WALObject[P, K, A]) AllLogs() []*LogRecord[P, K, A] { return w.container.All() }

// Front / Back return the first/last live record, or nil if empty.
func (w *WALObject[P, K, A]) Front() *LogRecord[P, K, A] { return w.container.Front() }
func (w *WALObject[P, K, A]) Back() *LogRecord[P, K, A]  { return w.container.Back() }

// LowerBound / UpperBound return snapshot tails starting at the first
// record whose key is >=/> key.
func (w *WALObject[P, K, A]) LowerBound(key K) []*LogRecord[P, K, A] {
	i := w.container.LowerBound(key)
	return w.container.Slice(i, w.container.Len())
}

func (w *WALObject[P, K, A]) UpperBound(key K) []*LogRecord[P, K, A] {
	i := w.container.UpperBound(key)
	return w.container.Slice(i, w.container.Len())
}

// Find returns the live record with the given key, or nil.
func (w *WALObject[P, K, A]) Find(key K) *LogRecord[P, K, A] {
	return w.container.Find(key)
}

// GetHashCodeBefore returns the chained hash of the record immediately
// preceding key, or the initial hash if none — used by a Publisher to
// let a subscriber verify its tail (spec §4.1).
func (w *WALObject[P, K, A]) GetHashCodeBefore(key K) Hash {
	i := w.container.LowerBound(key)
	if i == 0 {
		return w.initialHash
	}
	return w.vt.hashOf(w.container.at(i - 1))
}

// AllocateLog constructs a record, allocates its key, and stamps its
// meta, but does not install it. Returns nil, error on allocation
// failure (spec §4.1).
func (w *WALObject[P, K, A]) AllocateLog(now time.Time, action A, param any, payload P) (*LogRecord[P, K, A], error) {
	log := NewLogRecord[P, K, A](payload)
	key, err := w.vt.AllocateLogKey(w, log, param)
	if err != nil {
		return nil, errors.Wrap(err, "allocate_log_key")
	}
	meta := Meta[K, A]{Timepoint: now, Key: key, ActionCase: action}
	w.vt.SetMeta(w, log, meta)
	log.setMeta(meta)
	return log, nil
}

// EmplaceBack installs log, idempotent and reentrancy-safe per spec
// §4.1's algorithm. It returns KPending immediately if an append is
// already active (queueing this one), KMerge if the key collided with
// an existing record, or the dispatched action's result otherwise.
func (w *WALObject[P, K, A]) EmplaceBack(log *LogRecord[P, K, A], param any) (ResultCode, error) {
	if log == nil {
		return KInvalidParam, KInvalidParam
	}
	if w.inAction {
		w.pending = append(w.pending, pendingAppend[P, K, A]{log: log, param: param})
		return KPending, nil
	}
	w.inAction = true
	var code ResultCode
	var err error
	if w.isGloballyIgnored(log) {
		code, err = KIgnore, nil
	} else {
		code, err = w.pushBackInternal(log, param)
	}
	w.drainPending()
	w.inAction = false

	if w.cfg.MaxLogSize > 0 {
		for w.container.Len() > w.cfg.MaxLogSize {
			w.popFrontForGC()
		}
	}
	return code, err
}

// isGloballyIgnored reports whether log's key is at or below the
// watermark set by SetGlobalIgnoreKey, per spec §3's ingest-watermark
// invariant: every top-level append (and every drained reentrant one)
// checks it, not just the drain loop.
func (w *WALObject[P, K, A]) isGloballyIgnored(log *LogRecord[P, K, A]) bool {
	if w.globalIgnoreKey == nil {
		return false
	}
	key := w.vt.GetLogKey(w, log)
	return w.vt.KeyCompare(key, *w.globalIgnoreKey) <= 0
}

func (w *WALObject[P, K, A]) drainPending() {
	for len(w.pending) > 0 {
		next := w.pending[0]
		w.pending = w.pending[1:]
		if w.isGloballyIgnored(next.log) {
			continue
		}
		// Errors from drained reentrant appends are not returned to the
		// original outer caller (they already received KPending); they
		// still flow through OnLogActionError for observability.
		_, _ = w.pushBackInternal(next.log, next.param)
	}
}

func (w *WALObject[P, K, A]) pushBackInternal(log *LogRecord[P, K, A], param any) (ResultCode, error) {
	key := w.vt.GetLogKey(w, log)

	back := w.container.Back()
	if back == nil || w.vt.KeyCompare(key, back.Key()) > 0 {
		return w.appendAtEnd(log, param)
	}

	idx := w.container.LowerBound(key)
	if idx < w.container.Len() && w.vt.KeyCompare(w.container.at(idx).Key(), key) == 0 {
		existing := w.container.at(idx)
		if w.vt.MergeLog == nil {
			return KCallbackError, errors.Wrap(KCallbackError, "merge_log not set")
		}
		// existing's hash is part of the chain, not MergeLog's business to
		// touch; save and restore it around the callback regardless of
		// what MergeLog does to the record, mirroring the original's
		// get_hash_code/merge_log/set_hash_code sequence.
		savedHash := w.vt.hashOf(existing)
		err := w.vt.MergeLog(w, param, existing, log)
		w.vt.setHashOf(existing, savedHash)
		if err != nil {
			return KCallbackError, errors.Wrap(err, "merge_log")
		}
		return KMerge, nil
	}

	return w.insertAt(idx, log, param)
}

func (w *WALObject[P, K, A]) appendAtEnd(log *LogRecord[P, K, A], param any) (ResultCode, error) {
	prevHash := w.initialHash
	if back := w.container.Back(); back != nil {
		prevHash = w.vt.hashOf(back)
	}
	hashMatched := w.stampHash(log, prevHash)

	code, err := w.dispatch(log, param)
	if err != nil && !(w.cfg.AcceptLogWhenHashMatched && hashMatched) {
		return code, err
	}
	w.container.PushBack(log)
	w.fireOnLogAdded(log)
	return code, nil
}

func (w *WALObject[P, K, A]) insertAt(idx int, log *LogRecord[P, K, A], param any) (ResultCode, error) {
	prevHash := w.initialHash
	if idx > 0 {
		prevHash = w.vt.hashOf(w.container.at(idx - 1))
	}
	hashMatched := w.stampHash(log, prevHash)

	code, err := w.dispatch(log, param)
	if err != nil && !(w.cfg.AcceptLogWhenHashMatched && hashMatched) {
		return code, err
	}
	w.container.InsertAt(idx, log)
	w.rechainFrom(idx + 1)
	w.fireOnLogAdded(log)
	return code, nil
}

// stampHash computes log's chained hash from prevHash and stores it,
// returning whether a hash the log already carried (e.g. stamped by a
// publisher before shipping it to this client) matches the freshly
// computed one. A match means this object's chain agrees with the
// origin's, which is what Config.AcceptLogWhenHashMatched conditions
// tolerance of an action error on (spec §4.1).
func (w *WALObject[P, K, A]) stampHash(log *LogRecord[P, K, A], prevHash Hash) bool {
	existing := w.vt.hashOf(log)
	computed := w.vt.Hasher.Calculate(prevHash, log)
	matched := len(existing) > 0 && existing.Equal(computed)
	w.vt.setHashOf(log, computed)
	return matched
}

// rechainFrom recomputes hash codes for every record from logical
// index i onward, because a mid-sequence insert changes every
// successor's predecessor hash (spec §3's chained-hash invariant).
func (w *WALObject[P, K, A]) rechainFrom(i int) {
	for ; i < w.container.Len(); i++ {
		prev := w.initialHash
		if i > 0 {
			prev = w.vt.hashOf(w.container.at(i - 1))
		}
		cur := w.container.at(i)
		w.vt.setHashOf(cur, w.vt.Hasher.Calculate(prev, cur))
	}
}

func (w *WALObject[P, K, A]) dispatch(log *LogRecord[P, K, A], param any) (ResultCode, error) {
	meta, err := w.vt.GetMeta(w, log)
	if err != nil {
		return KCallbackError, errors.Wrap(err, "get_meta")
	}
	delegate, ok := w.vt.delegateFor(meta.ActionCase)
	if !ok {
		return KActionNotSet, KActionNotSet
	}

	if delegate.Patch != nil {
		code, err := delegate.Patch(w, log, param)
		if err == nil && !code.IsSuccess() {
			err = code
		}
		if err != nil {
			w.fireOnLogActionError(log, err)
			return code, err
		}
	}
	if delegate.Action != nil {
		code, err := delegate.Action(w, log, param)
		if err == nil && !code.IsSuccess() {
			err = code
		}
		if err != nil {
			w.fireOnLogActionError(log, err)
		}
		return code, err
	}
	return KOk, nil
}

func (w *WALObject[P, K, A]) fireOnLogAdded(log *LogRecord[P, K, A]) {
	for _, hook := range w.onLogAddedHooks {
		hook(w, log)
	}
	if w.vt.OnLogAdded != nil {
		w.vt.OnLogAdded(w, log)
	}
}

func (w *WALObject[P, K, A]) fireOnLogActionError(log *LogRecord[P, K, A], err error) {
	if w.vt.OnLogActionError != nil {
		w.vt.OnLogActionError(w, log, err)
	}
}

func (w *WALObject[P, K, A]) popFrontForGC() {
	r := w.container.PopFront()
	if r == nil {
		return
	}
	key := r.Key()
	if w.lastRemovedKey == nil || w.vt.KeyCompare(key, *w.lastRemovedKey) > 0 {
		w.lastRemovedKey = &key
	}
	if w.vt.OnLogRemoved != nil {
		w.vt.OnLogRemoved(w, r)
	}
}

// GC cleans from the front of the container per spec §4.1: while size
// exceeds GCLogSize AND (size exceeds MaxLogSize OR the front record
// has aged past GCExpireDuration). If hold is non-nil, GC stops before
// popping a record whose key is >= *hold.
func (w *WALObject[P, K, A]) GC(now time.Time, hold *K, maxCount int) int {
	removed := 0
	for {
		if maxCount > 0 && removed >= maxCount {
			break
		}
		n := w.container.Len()
		if n <= w.cfg.GCLogSize {
			break
		}
		front := w.container.Front()
		if front == nil {
			break
		}
		overSoftCap := n > w.cfg.GCLogSize
		overHardCap := w.cfg.MaxLogSize > 0 && n > w.cfg.MaxLogSize
		expired := w.cfg.GCExpireDuration > 0 && front.Timepoint().Add(w.cfg.GCExpireDuration).Compare(now) <= 0
		if !(overSoftCap && (overHardCap || expired)) {
			break
		}
		if hold != nil && w.vt.KeyCompare(front.Key(), *hold) >= 0 {
			break
		}
		w.popFrontForGC()
		removed++
	}
	return removed
}

// AssignLogs bulk-replaces the live set, re-chaining hashes from
// scratch and firing the assign-logs hook followed by a per-record
// add hook for every record in the new set (spec §9 OQ1).
func (w *WALObject[P, K, A]) AssignLogs(records []*LogRecord[P, K, A]) {
	w.container.Assign(records)
	w.rechainFrom(0)
	for _, hook := range w.onAssignLogsHooks {
		hook(w)
	}
	for _, r := range w.container.All() {
		w.fireOnLogAdded(r)
	}
}

// Load invokes the v-table's bulk deserialize callback, if set.
func (w *WALObject[P, K, A]) Load(storage any, param any) (ResultCode, error) {
	if w.vt.Load == nil {
		return KActionNotSet, KActionNotSet
	}
	return w.vt.Load(w, storage, param)
}

// Dump invokes the v-table's bulk serialize callback, if set.
func (w *WALObject[P, K, A]) Dump(storage any, param any) (ResultCode, error) {
	if w.vt.Dump == nil {
		return KActionNotSet, KActionNotSet
	}
	return w.vt.Dump(w, storage, param)
}
