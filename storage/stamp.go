package storage

import (
	"sync/atomic"
	"time"
)

// Stamper hands out strictly increasing timestamps. When the clock has not
// advanced since the last call, the previous value plus one is returned.
type Stamper struct {
	last atomic.Int64
	now  func() int64
}

// NewMilliStamper returns a Stamper counting wall-clock milliseconds.
func NewMilliStamper() *Stamper {
	return &Stamper{now: func() int64 { return time.Now().UnixMilli() }}
}

// NewNanoStamper returns a Stamper counting wall-clock nanoseconds.
func NewNanoStamper() *Stamper {
	return &Stamper{now: func() int64 { return time.Now().UnixNano() }}
}

// Next returns a value greater than every value previously returned.
func (s *Stamper) Next() int64 {
	for {
		last := s.last.Load()
		next := s.now()
		if next <= last {
			next = last + 1
		}
		if s.last.CompareAndSwap(last, next) {
			return next
		}
	}
}
