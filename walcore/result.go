package walcore

// ResultCode is the closed set of outcomes the core returns from its
// operations. A ResultCode satisfies error so callers can return it
// directly, but kOk-family codes (kOk, kIgnore, kMerge, kPending) are
// success variants, not failures — see spec §7's taxonomy.
type ResultCode int

const (
	// KOk indicates the operation completed normally.
	KOk ResultCode = iota
	// KIgnore indicates a log was already applied and was skipped.
	KIgnore
	// KPending indicates an append was queued because of reentrancy and
	// will be applied before the enclosing outer call returns.
	KPending
	// KMerge indicates an append collided with an existing key and was
	// merged rather than inserted.
	KMerge
	// KBadLogKey indicates a log carried an invalid or unusable key.
	KBadLogKey
	// KActionNotSet indicates no handler was registered for a log's
	// action-case and no default delegate was configured.
	KActionNotSet
	// KInvalidParam indicates a caller passed a nil or malformed argument.
	KInvalidParam
	// KCallbackError indicates a user callback returned a non-Ok error
	// that was not tolerated.
	KCallbackError
	// KInitialization indicates the WAL object, publisher, or client is
	// missing a required v-table field or configuration.
	KInitialization
	// KSubscriberNotFound indicates an operation referenced a subscriber
	// key with no matching record.
	KSubscriberNotFound
)

var resultCodeNames = map[ResultCode]string{
	KOk:                 "ok",
	KIgnore:             "ignore",
	KPending:            "pending",
	KMerge:              "merge",
	KBadLogKey:          "bad log key",
	KActionNotSet:       "action not set",
	KInvalidParam:       "invalid param",
	KCallbackError:      "callback error",
	KInitialization:     "initialization error",
	KSubscriberNotFound: "subscriber not found",
}

// Error implements error so a ResultCode can be returned and compared
// directly without an extra wrapping allocation.
func (c ResultCode) Error() string {
	if name, ok := resultCodeNames[c]; ok {
		return "walcore: " + name
	}
	return "walcore: unknown result code"
}

// IsSuccess reports whether c is one of the idempotence/dedup/flow
// control success variants enumerated in spec §7, rather than a true
// failure.
func (c ResultCode) IsSuccess() bool {
	switch c {
	case KOk, KIgnore, KMerge, KPending:
		return true
	default:
		return false
	}
}

// Code unwraps err (following pkg/errors causes) to find the
// ResultCode it carries, if any. It returns KOk, true when err is nil
// and KCallbackError, false when err is non-nil but not a ResultCode.
func Code(err error) (ResultCode, bool) {
	if err == nil {
		return KOk, true
	}
	type causer interface {
		Cause() error
	}
	for err != nil {
		if code, ok := err.(ResultCode); ok {
			return code, true
		}
		c, ok := err.(causer)
		if !ok {
			break
		}
		err = c.Cause()
	}
	return KCallbackError, false
}

// UnsubscribeReason explains why a subscriber was removed.
type UnsubscribeReason int

const (
	// ReasonNone is the zero value; no removal path in this module
	// reports it.
	ReasonNone UnsubscribeReason = iota
	// ReasonTimeout means the subscriber's heartbeat deadline elapsed.
	ReasonTimeout
	// ReasonClientRequest means the subscriber asked to be removed.
	ReasonClientRequest
	// ReasonInvalid means check_subscriber rejected the subscriber.
	ReasonInvalid
)

func (r UnsubscribeReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonClientRequest:
		return "client_request"
	case ReasonInvalid:
		return "invalid"
	default:
		return "none"
	}
}
