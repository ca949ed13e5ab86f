package walcore

// ActionFunc is the handler signature for a log's dispatched action or
// patch. Returning a non-Ok code (or error) from Action aborts the
// append unless Config.AcceptLogWhenHashMatched tolerates it — see
// WALObject.EmplaceBack.
type ActionFunc[P any, K any, A comparable] func(wal *WALObject[P, K, A], log *LogRecord[P, K, A], param any) (ResultCode, error)

// Delegate bundles a "patch" (runs first, short-circuits on error) and
// an "action" (runs second, its result is the dispatch's result) for
// one action-case. Either may be nil.
type Delegate[P any, K any, A comparable] struct {
	Patch  ActionFunc[P, K, A]
	Action ActionFunc[P, K, A]
}

// Vtable is the callback bundle a WALObject is constructed with.
// NewWALObject returns KInitialization when KeyCompare, GetMeta or
// GetLogKey is nil; the other fields marked required are not checked
// there, and a nil one panics when the WALObject first calls it.
type Vtable[P any, K any, A comparable] struct {
	// KeyCompare orders two log keys; required. Negative, zero, or
	// positive as a < b, a == b, a > b.
	KeyCompare func(a, b K) int

	// GetMeta extracts the stamped meta triple from log. Required.
	GetMeta func(wal *WALObject[P, K, A], log *LogRecord[P, K, A]) (Meta[K, A], error)

	// SetMeta stamps meta onto a freshly allocated log. Required.
	SetMeta func(wal *WALObject[P, K, A], log *LogRecord[P, K, A], meta Meta[K, A])

	// GetLogKey extracts a log's key directly. Required.
	GetLogKey func(wal *WALObject[P, K, A], log *LogRecord[P, K, A]) K

	// AllocateLogKey assigns a fresh key to a log during AllocateLog.
	// Required.
	AllocateLogKey func(wal *WALObject[P, K, A], log *LogRecord[P, K, A], param any) (K, error)

	// Hasher computes chained hashes. Required.
	Hasher HashCoder[P, K, A]

	// GetHashCode / SetHashCode read and write a log's stored hash.
	// Defaults to LogRecord.HashCode / SetHashCode when nil.
	GetHashCode func(log *LogRecord[P, K, A]) Hash
	SetHashCode func(log *LogRecord[P, K, A], h Hash)

	// MergeLog combines payloads when an incoming log's key matches an
	// existing live record. Required if duplicate keys are possible;
	// a nil MergeLog with a colliding key is a KCallbackError.
	MergeLog func(wal *WALObject[P, K, A], param any, existing, incoming *LogRecord[P, K, A]) error

	// OnLogAdded / OnLogRemoved are user observer hooks, always called
	// in addition to any internal replication-layer hooks.
	OnLogAdded   func(wal *WALObject[P, K, A], log *LogRecord[P, K, A])
	OnLogRemoved func(wal *WALObject[P, K, A], log *LogRecord[P, K, A])

	// OnLogActionError fires whenever a dispatched action/patch returns
	// a non-Ok result, whether or not AcceptLogWhenHashMatched ends up
	// tolerating it (SPEC_FULL supplemented feature #1).
	OnLogActionError func(wal *WALObject[P, K, A], log *LogRecord[P, K, A], err error)

	// LogActionDelegate maps an action-case to its handler.
	LogActionDelegate map[A]Delegate[P, K, A]
	// DefaultDelegate is used when LogActionDelegate has no entry for a
	// log's action-case.
	DefaultDelegate Delegate[P, K, A]

	// Load / Dump bulk (de)serialize against an opaque storage handle.
	Load func(wal *WALObject[P, K, A], storage any, param any) (ResultCode, error)
	Dump func(wal *WALObject[P, K, A], storage any, param any) (ResultCode, error)
}

func (vt *Vtable[P, K, A]) hashOf(log *LogRecord[P, K, A]) Hash {
	if vt.GetHashCode != nil {
		return vt.GetHashCode(log)
	}
	return log.HashCode()
}

func (vt *Vtable[P, K, A]) setHashOf(log *LogRecord[P, K, A], h Hash) {
	if vt.SetHashCode != nil {
		vt.SetHashCode(log, h)
		return
	}
	log.SetHashCode(h)
}

func (vt *Vtable[P, K, A]) delegateFor(action A) (Delegate[P, K, A], bool) {
	if vt.LogActionDelegate != nil {
		if d, ok := vt.LogActionDelegate[action]; ok {
			return d, true
		}
	}
	if vt.DefaultDelegate.Patch != nil || vt.DefaultDelegate.Action != nil {
		return vt.DefaultDelegate, true
	}
	return Delegate[P, K, A]{}, false
}

func (vt *Vtable[P, K, A]) validate() error {
	if vt.GetMeta == nil || vt.GetLogKey == nil {
		return KInitialization
	}
	if vt.KeyCompare == nil {
		return KInitialization
	}
	return nil
}
