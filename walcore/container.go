package walcore

import "sort"

// logContainer is the ordered, append-friendly store backing a
// WALObject. It keeps live records in ascending key order (per the
// caller-supplied comparator), supports O(1) amortized append at the
// end, O(log n) bound search, and O(1) pop-front.
//
// Records are held as pointers, so a slice snapshot taken before a
// mutation (e.g. the tail handed to Publisher.send_logs) keeps
// referencing the same record objects even if the container later
// grows, shrinks from the front, or reallocates its backing array —
// the snapshot's elements don't change out from under a caller
// iterating it after the container itself has moved on. This is the
// Go-idiomatic stand-in for the spec's "every record is reference-
// counted" requirement (spec §3).
type logContainer[P any, K any, A comparable] struct {
	records []*LogRecord[P, K, A]
	start   int
	cmp     func(a, b K) int
}

func newLogContainer[P any, K any, A comparable](cmp func(a, b K) int) *logContainer[P, K, A] {
	return &logContainer[P, K, A]{cmp: cmp}
}

func (c *logContainer[P, K, A]) Len() int {
	return len(c.records) - c.start
}

func (c *logContainer[P, K, A]) at(i int) *LogRecord[P, K, A] {
	return c.records[c.start+i]
}

func (c *logContainer[P, K, A]) Front() *LogRecord[P, K, A] {
	if c.Len() == 0 {
		return nil
	}
	return c.at(0)
}

func (c *logContainer[P, K, A]) Back() *LogRecord[P, K, A] {
	if c.Len() == 0 {
		return nil
	}
	return c.at(c.Len() - 1)
}

// PushBack appends r unconditionally. Callers must have already
// established that r's key sorts after the current back.
func (c *logContainer[P, K, A]) PushBack(r *LogRecord[P, K, A]) {
	c.records = append(c.records, r)
}

// InsertAt inserts r at logical index i, shifting successors right.
func (c *logContainer[P, K, A]) InsertAt(i int, r *LogRecord[P, K, A]) {
	abs := c.start + i
	c.records = append(c.records, nil)
	copy(c.records[abs+1:], c.records[abs:len(c.records)-1])
	c.records[abs] = r
}

// PopFront removes and returns the first live record, or nil if empty.
func (c *logContainer[P, K, A]) PopFront() *LogRecord[P, K, A] {
	if c.Len() == 0 {
		return nil
	}
	r := c.records[c.start]
	c.records[c.start] = nil
	c.start++
	c.maybeCompact()
	return r
}

func (c *logContainer[P, K, A]) maybeCompact() {
	if c.start > 0 && c.start*2 > len(c.records) {
		remaining := len(c.records) - c.start
		copy(c.records, c.records[c.start:])
		c.records = c.records[:remaining]
		c.start = 0
	}
}

// LowerBound returns the logical index of the first record whose key
// is >= key, or Len() if none.
func (c *logContainer[P, K, A]) LowerBound(key K) int {
	n := c.Len()
	if n > 0 && c.cmp(c.at(n-1).Key(), key) < 0 {
		return n
	}
	return sort.Search(n, func(i int) bool {
		return c.cmp(c.at(i).Key(), key) >= 0
	})
}

// UpperBound returns the logical index of the first record whose key
// is > key, or Len() if none.
func (c *logContainer[P, K, A]) UpperBound(key K) int {
	n := c.Len()
	if n > 0 && c.cmp(c.at(n-1).Key(), key) <= 0 {
		return n
	}
	return sort.Search(n, func(i int) bool {
		return c.cmp(c.at(i).Key(), key) > 0
	})
}

// Find returns the record with the given key, or nil if absent.
func (c *logContainer[P, K, A]) Find(key K) *LogRecord[P, K, A] {
	i := c.LowerBound(key)
	if i < c.Len() && c.cmp(c.at(i).Key(), key) == 0 {
		return c.at(i)
	}
	return nil
}

// Slice returns a snapshot slice of logical indices [from, to).
func (c *logContainer[P, K, A]) Slice(from, to int) []*LogRecord[P, K, A] {
	if from < 0 {
		from = 0
	}
	n := c.Len()
	if to > n {
		to = n
	}
	if from >= to {
		return nil
	}
	out := make([]*LogRecord[P, K, A], to-from)
	copy(out, c.records[c.start+from:c.start+to])
	return out
}

// All returns a snapshot of every live record in order.
func (c *logContainer[P, K, A]) All() []*LogRecord[P, K, A] {
	return c.Slice(0, c.Len())
}

// Assign replaces the entire live set with records, which must already
// be sorted per the container's comparator.
func (c *logContainer[P, K, A]) Assign(records []*LogRecord[P, K, A]) {
	c.records = append([]*LogRecord[P, K, A](nil), records...)
	c.start = 0
}
