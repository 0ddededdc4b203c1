package clock

import (
	"container/heap"
	"time"
)

// TimerID identifies a scheduled callback.
type TimerID uint64

type timer struct {
	id    TimerID
	at    time.Time
	seq   uint64
	every time.Duration
	fn    func()
	index int
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler is a priority queue of timed callbacks ordered by fire time.
// Callbacks never run on their own: the owner calls RunDue, normally from the
// game loop, so every callback executes on that goroutine.
//
// Scheduler is not safe for concurrent use.
type Scheduler struct {
	clock  Clock
	timers timerHeap
	byID   map[TimerID]*timer
	nextID TimerID
	seq    uint64
}

// NewScheduler creates a Scheduler reading time from c.
//
// Precondition: c must be non-nil.
func NewScheduler(c Clock) *Scheduler {
	return &Scheduler{
		clock: c,
		byID:  make(map[TimerID]*timer),
	}
}

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// After schedules fn to run once, d after now.
func (s *Scheduler) After(d time.Duration, fn func()) TimerID {
	return s.schedule(s.clock.Now().Add(d), 0, fn)
}

// Every schedules fn to run every interval, first firing one interval from now.
// Successive deadlines are computed from the previous deadline, not from the
// time the callback actually ran.
//
// Precondition: interval > 0.
func (s *Scheduler) Every(interval time.Duration, fn func()) TimerID {
	if interval <= 0 {
		panic("clock.Scheduler.Every: interval must be > 0")
	}
	return s.schedule(s.clock.Now().Add(interval), interval, fn)
}

func (s *Scheduler) schedule(at time.Time, every time.Duration, fn func()) TimerID {
	s.nextID++
	s.seq++
	t := &timer{id: s.nextID, at: at, seq: s.seq, every: every, fn: fn}
	heap.Push(&s.timers, t)
	s.byID[t.id] = t
	return t.id
}

// Cancel removes a pending timer. It reports whether the timer was pending.
// Cancelling a periodic timer from inside its own callback stops future runs.
func (s *Scheduler) Cancel(id TimerID) bool {
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	if t.index >= 0 {
		heap.Remove(&s.timers, t.index)
	}
	delete(s.byID, id)
	return true
}

// RunDue fires every callback whose deadline is at or before Now, in deadline
// order and then in scheduling order. Periodic timers that are still due
// after being re-armed fire again in the same call. Returns the number of
// callbacks run.
func (s *Scheduler) RunDue() int {
	now := s.clock.Now()
	fired := 0
	for len(s.timers) > 0 {
		t := s.timers[0]
		if t.at.After(now) {
			break
		}
		heap.Pop(&s.timers)
		if t.every > 0 {
			t.at = t.at.Add(t.every)
			s.seq++
			t.seq = s.seq
			heap.Push(&s.timers, t)
		} else {
			delete(s.byID, t.id)
		}
		t.fn()
		fired++
	}
	return fired
}

// NextDeadline returns the earliest pending deadline.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	if len(s.timers) == 0 {
		return time.Time{}, false
	}
	return s.timers[0].at, true
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int { return len(s.timers) }
