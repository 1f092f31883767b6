package control

import "sync/atomic"

// Clock issues cycle sequence numbers. Every reading, transition, phase
// event and log line produced by a cycle carries its seq, so a run's
// records interleave deterministically even when wall-clock timestamps
// collide at millisecond resolution.
type Clock struct {
	seq atomic.Int64
}

// NewClock starts a clock at zero; the first cycle gets seq 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt resumes a clock after a restart. Pass the store's MaxSeq so
// a resumed run never reuses a sequence number already on disk.
func NewClockAt(last int64) *Clock {
	c := &Clock{}
	c.seq.Store(last)
	return c
}

// Next reserves and returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the most recently issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
