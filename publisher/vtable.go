package publisher

import (
	"github.com/liftbridge-io/walreplicate/subscriber"
	"github.com/liftbridge-io/walreplicate/walcore"
)

// Checkpoint is a subscriber's claim, in a subscribe request, of the
// latest key it has installed, optionally with the hash it observed
// for that record (spec §6's "Subscribe message interface").
type Checkpoint[K any] struct {
	Key  K
	Hash walcore.Hash // nil if the caller has no hash to offer
}

// Vtable is the Publisher-specific callback bundle layered on top of a
// walcore.Vtable, per spec §4.2.
type Vtable[P any, K any, A comparable, SK comparable] struct {
	// SendSnapshot transmits enough state for the named subscribers to
	// reconstruct the WAL object via on_receive_snapshot. Required.
	SendSnapshot func(pub *Publisher[P, K, A, SK], subs []*subscriber.Subscriber[SK], param any) (walcore.ResultCode, error)

	// SendLogs transmits logs to the named subscribers. Required.
	SendLogs func(pub *Publisher[P, K, A, SK], logs []*walcore.LogRecord[P, K, A], subs []*subscriber.Subscriber[SK], param any) (walcore.ResultCode, error)

	// SubscribeResponse delivers the final result of a subscribe
	// request back to its caller.
	SubscribeResponse func(pub *Publisher[P, K, A, SK], sub *subscriber.Subscriber[SK], code walcore.ResultCode, param any) (walcore.ResultCode, error)

	// CheckSubscriber is invoked on every subscribe-request lookup;
	// returning false removes the subscriber with ReasonInvalid.
	CheckSubscriber func(pub *Publisher[P, K, A, SK], sub *subscriber.Subscriber[SK], param any) bool

	// SubscriberForceSyncSnapshot lets the application override the
	// normal catch-up decision and demand a snapshot.
	SubscriberForceSyncSnapshot func(pub *Publisher[P, K, A, SK], sub *subscriber.Subscriber[SK], lastCheckpointKey K, lastHash walcore.Hash, param any) bool

	OnSubscriberRequest func(pub *Publisher[P, K, A, SK], sub *subscriber.Subscriber[SK], param any)
	OnSubscriberAdded   func(pub *Publisher[P, K, A, SK], sub *subscriber.Subscriber[SK], param any)
	OnSubscriberRemoved func(pub *Publisher[P, K, A, SK], sub *subscriber.Subscriber[SK], reason walcore.UnsubscribeReason, param any)
}

func (vt *Vtable[P, K, A, SK]) validate() error {
	if vt.SendLogs == nil || vt.SendSnapshot == nil {
		return walcore.KInitialization
	}
	return nil
}
