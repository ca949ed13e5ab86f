package client

import "github.com/liftbridge-io/walreplicate/walcore"

// Vtable is the Client-specific callback bundle from spec §4.3.
type Vtable[P any, K any, A comparable] struct {
	// OnReceiveSnapshot installs a snapshot onto the client's WAL
	// object, typically via WALObject.AssignLogs. Required.
	OnReceiveSnapshot func(c *Client[P, K, A], snapshot any, param any) (walcore.ResultCode, error)

	// OnReceiveSubscribeResponse reacts to the publisher's reply to a
	// subscribe/heartbeat request.
	OnReceiveSubscribeResponse func(c *Client[P, K, A], param any) (walcore.ResultCode, error)

	// SubscribeRequest emits one outbound heartbeat. Required.
	SubscribeRequest func(c *Client[P, K, A], param any) (walcore.ResultCode, error)
}

func (vt *Vtable[P, K, A]) validate() error {
	if vt.OnReceiveSnapshot == nil || vt.SubscribeRequest == nil {
		return walcore.KInitialization
	}
	return nil
}
