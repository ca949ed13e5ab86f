// Package subscriber implements the subscriber record and subscriber
// manager described in spec §3/§4.2: a tuple of (key, last heartbeat,
// heartbeat timeout, private data) plus an index that orders
// subscribers by next expiry so a Publisher's tick can find and expire
// the soonest-due subscriber in O(1).
package subscriber
