package engine

import "sync/atomic"

// Clock is the monotonic logical clock behind every seq number.
//
// All event records and firings are stamped from this clock, never from
// wall time. Identical inputs therefore produce identical sequences on
// every run, which is what makes journal replay byte-for-byte comparable.
//
// Thread-safety: Clock uses atomic operations and is safe for concurrent
// use, though the dispatcher's single-writer lock means only one
// goroutine normally advances it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Used when resuming over an existing journal: seed with store.MaxSeq so
// new records sort after everything already written.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and advances the clock.
// Each call returns a unique, strictly increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
