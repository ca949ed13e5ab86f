package subscriber

import (
	"container/list"
	"time"
)

// Manager indexes subscribers by key and keeps them ordered by next
// expiry, per spec §4.2/§9: the front of the expiry list is always the
// subscriber due to expire soonest.
//
// The list is kept sorted by deadline via splice rather than a heap,
// per spec §9's note that a heap "complicates lazy removal of stale
// entries". Repositioning walks from the tail, which is O(1) amortized
// for the overwhelmingly common case — a heartbeat refresh pushes a
// subscriber's deadline to the newest (largest) value, so it walks
// zero or one hop before settling at the back.
type Manager[SK comparable] struct {
	byKey  map[SK]*Subscriber[SK]
	expiry *list.List // sorted ascending by LastHeartbeat+Timeout
}

// NewManager constructs an empty subscriber manager.
func NewManager[SK comparable]() *Manager[SK] {
	return &Manager[SK]{
		byKey:  make(map[SK]*Subscriber[SK]),
		expiry: list.New(),
	}
}

// Get returns the subscriber for key, or nil.
func (m *Manager[SK]) Get(key SK) *Subscriber[SK] {
	return m.byKey[key]
}

// Len returns the number of tracked subscribers.
func (m *Manager[SK]) Len() int {
	return len(m.byKey)
}

// All returns a snapshot of every tracked subscriber, in expiry order.
func (m *Manager[SK]) All() []*Subscriber[SK] {
	out := make([]*Subscriber[SK], 0, m.expiry.Len())
	for e := m.expiry.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Subscriber[SK]))
	}
	return out
}

// CreateOrRefresh implements the idempotent half of spec §4.2's
// create_subscriber: if key already exists, its timeout and
// last-heartbeat are refreshed and (sub, false) is returned; otherwise
// a new subscriber is created, inserted into the expiry list at the
// position of its deadline, and (sub, true) is returned.
func (m *Manager[SK]) CreateOrRefresh(key SK, now time.Time, timeout time.Duration, privateData any) (sub *Subscriber[SK], created bool) {
	if existing, ok := m.byKey[key]; ok {
		existing.LastHeartbeat = now
		existing.Timeout = timeout
		m.reposition(existing)
		return existing, false
	}
	sub = &Subscriber[SK]{
		Key:           key,
		LastHeartbeat: now,
		Timeout:       timeout,
		PrivateData:   privateData,
		manager:       m,
	}
	m.insertSorted(sub)
	m.byKey[key] = sub
	return sub, true
}

// RefreshHeartbeat updates an existing subscriber's last-heartbeat and
// repositions it in the expiry list. Reports false if key is untracked.
func (m *Manager[SK]) RefreshHeartbeat(key SK, now time.Time) bool {
	sub, ok := m.byKey[key]
	if !ok {
		return false
	}
	sub.LastHeartbeat = now
	m.reposition(sub)
	return true
}

// insertSorted inserts sub into the expiry list, walking from the tail
// since a new subscriber's deadline is overwhelmingly likely to be the
// newest.
func (m *Manager[SK]) insertSorted(sub *Subscriber[SK]) {
	deadline := sub.Deadline()
	for e := m.expiry.Back(); e != nil; e = e.Prev() {
		if !e.Value.(*Subscriber[SK]).Deadline().After(deadline) {
			sub.elem = m.expiry.InsertAfter(sub, e)
			return
		}
	}
	sub.elem = m.expiry.PushFront(sub)
}

// reposition removes sub's current list element and re-inserts it in
// sorted position.
func (m *Manager[SK]) reposition(sub *Subscriber[SK]) {
	m.expiry.Remove(sub.elem)
	sub.elem = nil
	m.insertSorted(sub)
}

// Remove drops a subscriber from both the key index and the expiry
// list. Reports false if key was untracked.
func (m *Manager[SK]) Remove(key SK) bool {
	sub, ok := m.byKey[key]
	if !ok {
		return false
	}
	m.expiry.Remove(sub.elem)
	delete(m.byKey, key)
	return true
}

// Expired returns every subscriber whose deadline has passed at time
// now, in non-decreasing deadline order, without removing them — the
// caller (Publisher.tick) is responsible for firing removal hooks and
// calling Remove.
func (m *Manager[SK]) Expired(now time.Time) []*Subscriber[SK] {
	var out []*Subscriber[SK]
	for e := m.expiry.Front(); e != nil; e = e.Next() {
		sub := e.Value.(*Subscriber[SK])
		if !sub.IsOffline(now) {
			break
		}
		out = append(out, sub)
	}
	return out
}
