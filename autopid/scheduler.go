package autopid

import (
	"iter"
	"math/rand/v2"
	"time"
)

const (
	// JitterMin and JitterMax bound the random delay, in milliseconds,
	// added to every reschedule.
	JitterMin = 5
	JitterMax = 50
)

// Jitter draws a uniform delay in [JitterMin, JitterMax] milliseconds.
func Jitter() time.Duration {
	return time.Duration(JitterMin+rand.IntN(JitterMax-JitterMin+1)) * time.Millisecond
}

// Scheduler owns the configured signals and decides which are due.
// It is not safe for concurrent use.
type Scheduler struct {
	signals []SignalRequest
	now     func() time.Time
	jitter  func() time.Duration
}

// NewScheduler takes ownership of signals. Every signal is due on the
// first sweep.
func NewScheduler(signals []SignalRequest) *Scheduler {
	return &Scheduler{
		signals: signals,
		now:     time.Now,
		jitter:  Jitter,
	}
}

// Len returns the number of configured signals.
func (s *Scheduler) Len() int {
	return len(s.signals)
}

// Due yields, in configuration order, every signal whose due time has
// passed. Each yielded signal has already been rescheduled to
// now + Period + jitter.
func (s *Scheduler) Due() iter.Seq[*SignalRequest] {
	return func(yield func(*SignalRequest) bool) {
		for i := range s.signals {
			sig := &s.signals[i]
			now := s.now()
			if !now.After(sig.nextDue) {
				continue
			}
			sig.nextDue = now.Add(sig.Period + s.jitter())
			if !yield(sig) {
				return
			}
		}
	}
}
