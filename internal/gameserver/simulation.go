package gameserver

import (
	"time"

	"github.com/cory-johannsen/arena/internal/game/clock"
	"github.com/cory-johannsen/arena/internal/game/room"
)

// SimulationTicker advances every room's world at a fixed rate on the
// scheduler.
//
// Invariant: each tick passes the time elapsed since the previous tick.
type SimulationTicker struct {
	sched    *clock.Scheduler
	rooms    *room.Manager
	interval time.Duration
	timer    clock.TimerID
	last     time.Time
	ticks    int
}

// NewSimulationTicker returns a ticker that fires rateHz times per second.
//
// Precondition: rateHz must be > 0.
func NewSimulationTicker(sched *clock.Scheduler, rooms *room.Manager, rateHz int) *SimulationTicker {
	if rateHz <= 0 {
		panic("gameserver.NewSimulationTicker: rate must be > 0")
	}
	return &SimulationTicker{
		sched:    sched,
		rooms:    rooms,
		interval: time.Second / time.Duration(rateHz),
	}
}

// Interval returns the tick period.
func (s *SimulationTicker) Interval() time.Duration { return s.interval }

// Ticks returns how many ticks have run.
func (s *SimulationTicker) Ticks() int { return s.ticks }

// Start arms the ticker. Calling Start twice is a no-op.
func (s *SimulationTicker) Start() {
	if s.timer != 0 {
		return
	}
	s.last = s.sched.Now()
	s.timer = s.sched.Every(s.interval, s.tick)
}

// Stop disarms the ticker.
func (s *SimulationTicker) Stop() {
	if s.timer != 0 {
		s.sched.Cancel(s.timer)
		s.timer = 0
	}
}

func (s *SimulationTicker) tick() {
	now := s.sched.Now()
	dt := now.Sub(s.last)
	s.last = now
	s.ticks++
	s.rooms.Update(dt)
}
