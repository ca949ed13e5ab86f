package walcore

import "crypto/sha256"

// HashCoder computes a record's chained hash from its predecessor's
// hash. It is the "Hash-code trait" named in spec §2: a small,
// user-pluggable component the WAL object never calls directly — it is
// wired through Vtable.Hasher so that callers who already have a hash
// function can adapt it with HashCoderFunc instead of implementing an
// interface.
type HashCoder[P any, K any, A comparable] interface {
	Calculate(previous Hash, log *LogRecord[P, K, A]) Hash
}

// HashCoderFunc adapts a plain function to HashCoder.
type HashCoderFunc[P any, K any, A comparable] func(previous Hash, log *LogRecord[P, K, A]) Hash

// Calculate implements HashCoder.
func (f HashCoderFunc[P, K, A]) Calculate(previous Hash, log *LogRecord[P, K, A]) Hash {
	return f(previous, log)
}

// SHA256ChainHash is a ready-made HashCoder for payloads that expose
// their own byte encoding. It folds the previous hash and the payload
// bytes together with sha256, matching the "calculate_hash(previous,
// record)" chaining rule in spec §3. It is a convenience for tests and
// the demo CLI; the core itself never assumes a specific digest.
func SHA256ChainHash[P any, K any, A comparable](encode func(P) []byte) HashCoder[P, K, A] {
	return HashCoderFunc[P, K, A](func(previous Hash, log *LogRecord[P, K, A]) Hash {
		h := sha256.New()
		h.Write(previous)
		h.Write(encode(log.Payload))
		return h.Sum(nil)
	})
}
