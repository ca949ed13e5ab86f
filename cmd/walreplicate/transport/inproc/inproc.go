// Package inproc is a demo-only, in-process transport connecting a
// publisher.Publisher directly to one or more client.Client instances
// in the same process via Go channels, standing in for whatever real
// network transport a caller would wire (spec §6 deliberately leaves
// the wire format and transport unspecified — this repo does not
// import NATS or gRPC, since that sits outside the spec's scope). It
// exists so cmd/walreplicate can demonstrate the full publish/subscribe
// callback contract end to end without a real network.
package inproc

import (
	"context"

	"github.com/liftbridge-io/walreplicate/client"
	"github.com/liftbridge-io/walreplicate/publisher"
	"github.com/liftbridge-io/walreplicate/subscriber"
	"github.com/liftbridge-io/walreplicate/walcore"
)

// Envelope is what crosses the channel between a Publisher and a
// Client: either a log batch or a full snapshot, never both.
type Envelope[P any, K any, A comparable] struct {
	Logs     []*walcore.LogRecord[P, K, A]
	Snapshot []*walcore.LogRecord[P, K, A]
}

// Link wires one client.Client to a publisher.Publisher over buffered
// channels. Call Publisher-side Vtable.SendLogs/SendSnapshot through
// SendLogs/SendSnapshot, and pump deliveries into the client with Run.
type Link[P any, K any, A comparable] struct {
	inbox chan Envelope[P, K, A]
	c     *client.Client[P, K, A]
}

// NewLink constructs a Link delivering to c with the given channel
// buffer depth.
func NewLink[P any, K any, A comparable](c *client.Client[P, K, A], buffer int) *Link[P, K, A] {
	return &Link[P, K, A]{inbox: make(chan Envelope[P, K, A], buffer), c: c}
}

// SendLogs implements the shape of publisher.Vtable.SendLogs for one
// subscriber's Link: it is called once per subscriber in the subs
// slice by Registry.SendLogs below.
func (l *Link[P, K, A]) SendLogs(logs []*walcore.LogRecord[P, K, A]) {
	l.inbox <- Envelope[P, K, A]{Logs: logs}
}

// SendSnapshot mirrors SendLogs for full-snapshot delivery.
func (l *Link[P, K, A]) SendSnapshot(snapshot []*walcore.LogRecord[P, K, A]) {
	l.inbox <- Envelope[P, K, A]{Snapshot: snapshot}
}

// Run pumps every envelope delivered to this Link into the client until
// ctx is canceled, applying Logs via ReceiveLogs and Snapshot via
// ReceiveSnapshot.
func (l *Link[P, K, A]) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-l.inbox:
			if env.Snapshot != nil {
				l.c.ReceiveSnapshot(env.Snapshot, nil)
				continue
			}
			l.c.ReceiveLogs(env.Logs, nil)
		}
	}
}

// Registry maps a publisher's subscriber key to the Link delivering to
// that subscriber's client, so its SendLogs/SendSnapshot methods can
// serve as a publisher Vtable's callbacks and route per-subscriber.
type Registry[P any, K any, A comparable, SK comparable] struct {
	links map[SK]*Link[P, K, A]
}

// NewRegistry constructs an empty Registry.
func NewRegistry[P any, K any, A comparable, SK comparable]() *Registry[P, K, A, SK] {
	return &Registry[P, K, A, SK]{links: make(map[SK]*Link[P, K, A])}
}

// Add registers link under key.
func (r *Registry[P, K, A, SK]) Add(key SK, link *Link[P, K, A]) {
	r.links[key] = link
}

// SendLogs is a publisher.Vtable.SendLogs implementation fanning logs
// out to every named subscriber's registered Link.
func (r *Registry[P, K, A, SK]) SendLogs(pub *publisher.Publisher[P, K, A, SK], logs []*walcore.LogRecord[P, K, A], subs []*subscriber.Subscriber[SK], param any) (walcore.ResultCode, error) {
	for _, s := range subs {
		if link, ok := r.links[s.Key]; ok {
			link.SendLogs(logs)
		}
	}
	return walcore.KOk, nil
}

// SendSnapshot mirrors SendLogs for full-snapshot delivery.
func (r *Registry[P, K, A, SK]) SendSnapshot(pub *publisher.Publisher[P, K, A, SK], subs []*subscriber.Subscriber[SK], param any) (walcore.ResultCode, error) {
	for _, s := range subs {
		if link, ok := r.links[s.Key]; ok {
			link.SendSnapshot(pub.WALObject().AllLogs())
		}
	}
	return walcore.KOk, nil
}
