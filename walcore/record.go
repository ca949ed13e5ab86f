package walcore

import "time"

// Hash is an opaque chained digest. Its zero value is the "initial"
// hash fed to the first record in an otherwise-empty chain.
type Hash []byte

// Equal reports whether two hashes carry the same bytes.
func (h Hash) Equal(other Hash) bool {
	if len(h) != len(other) {
		return false
	}
	for i := range h {
		if h[i] != other[i] {
			return false
		}
	}
	return true
}

// Meta is the (timepoint, key, action-case) triple stamped on every log
// record. K is the user's log-key type, A the action-case discriminator.
type Meta[K any, A comparable] struct {
	Timepoint  time.Time
	Key        K
	ActionCase A
}

// LogRecord wraps an application-defined payload of type P together
// with the metadata and hash the core needs to order, dispatch, and
// chain it. The core never inspects Payload directly; all access goes
// through the Vtable's Get/Set callbacks.
type LogRecord[P any, K any, A comparable] struct {
	Payload P
	meta    Meta[K, A]
	hash    Hash
}

// NewLogRecord wraps payload in a fresh, unstamped record. Meta is
// filled in later by AllocateLog, which also passes it to
// Vtable.SetMeta.
func NewLogRecord[P any, K any, A comparable](payload P) *LogRecord[P, K, A] {
	return &LogRecord[P, K, A]{Payload: payload}
}

// Meta returns the record's stamped metadata triple.
func (r *LogRecord[P, K, A]) Meta() Meta[K, A] {
	return r.meta
}

// Key returns the record's log key.
func (r *LogRecord[P, K, A]) Key() K {
	return r.meta.Key
}

// ActionCase returns the record's action-case discriminator.
func (r *LogRecord[P, K, A]) ActionCase() A {
	return r.meta.ActionCase
}

// Timepoint returns the record's stamped timepoint.
func (r *LogRecord[P, K, A]) Timepoint() time.Time {
	return r.meta.Timepoint
}

// HashCode returns the record's stored chained hash.
func (r *LogRecord[P, K, A]) HashCode() Hash {
	return r.hash
}

// SetHashCode overwrites the record's stored chained hash. Exported so
// Vtable callbacks driven by assign_logs-style bulk replace can mirror
// the core's re-chaining onto the record's own storage when the
// caller's GetHashCode/SetHashCode callbacks simply delegate here.
func (r *LogRecord[P, K, A]) SetHashCode(h Hash) {
	r.hash = h
}

func (r *LogRecord[P, K, A]) setMeta(m Meta[K, A]) {
	r.meta = m
}
