package detector

import (
	"sync/atomic"
	"time"
)

// Clock returns the current time.
type Clock func() time.Time

// Session holds the interaction counters of one page view. Recorders and
// probes may run on different goroutines.
type Session struct {
	startTime      time.Time
	clock          Clock
	mouseMovements atomic.Int64
	touchEvents    atomic.Int64
}

// NewSession starts a page-view session at start. A nil clock uses time.Now.
func NewSession(start time.Time, clock Clock) *Session {
	if clock == nil {
		clock = time.Now
	}
	return &Session{startTime: start, clock: clock}
}

func (s *Session) RecordMouseMove() { s.mouseMovements.Add(1) }

func (s *Session) RecordTouch() { s.touchEvents.Add(1) }

// AddMouseMovements folds in movements counted elsewhere, e.g. by a browser collector.
func (s *Session) AddMouseMovements(n int) {
	if n > 0 {
		s.mouseMovements.Add(int64(n))
	}
}

// AddTouchEvents folds in touch events counted elsewhere.
func (s *Session) AddTouchEvents(n int) {
	if n > 0 {
		s.touchEvents.Add(int64(n))
	}
}

func (s *Session) MouseMovements() int { return int(s.mouseMovements.Load()) }

func (s *Session) TouchEvents() int { return int(s.touchEvents.Load()) }

func (s *Session) StartTime() time.Time { return s.startTime }

// Elapsed is the time on page so far.
func (s *Session) Elapsed() time.Duration {
	return s.clock().Sub(s.startTime)
}
