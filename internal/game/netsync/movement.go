package netsync

import (
	"math"
	"time"
)

// Movement defaults for the owning client's simulation.
const (
	DefaultMaxSpeed        = 100.0
	DefaultInputDeadzone   = 0.1
	DefaultTurnRate        = 8.0
	DefaultRotateThreshold = 10.0
	DefaultSendDistance    = 1.0
	DefaultSendInterval    = 100 * time.Millisecond
)

// LocalMover simulates the owning client's player directly from raw input,
// ahead of any server confirmation.
type LocalMover struct {
	MaxSpeed float64
	// Deadzone is the input magnitude below which the player stands still.
	Deadzone float64
	// TurnRate scales how quickly rotation closes on the velocity heading.
	TurnRate float64
	// RotateThreshold is the speed above which rotation tracks the heading.
	RotateThreshold float64
}

// DefaultLocalMover returns a LocalMover with the stock tuning.
func DefaultLocalMover() LocalMover {
	return LocalMover{
		MaxSpeed:        DefaultMaxSpeed,
		Deadzone:        DefaultInputDeadzone,
		TurnRate:        DefaultTurnRate,
		RotateThreshold: DefaultRotateThreshold,
	}
}

// Step advances p by one frame of input. Input is normalized so diagonal
// movement is no faster than straight movement; the resulting velocity is
// integrated into Position and rotation turns toward the heading once the
// player moves faster than RotateThreshold.
func (m LocalMover) Step(p *NetworkPlayer, input Vec3, dt time.Duration) {
	secs := dt.Seconds()
	if secs <= 0 {
		return
	}
	dir := Vec3{X: input.X, Y: input.Y}
	if dir.Len() < m.Deadzone {
		p.Velocity = Vec3{}
		return
	}
	p.Velocity = dir.Normalize().Scale(m.MaxSpeed)
	p.Position = p.Position.Add(p.Velocity.Scale(secs))

	if p.Velocity.Len() > m.RotateThreshold {
		target := math.Atan2(p.Velocity.Y, p.Velocity.X)
		diff := WrapAngle(target - p.Rotation)
		p.Rotation = WrapAngle(p.Rotation + diff*math.Min(1, m.TurnRate*secs))
	}
}

// SendGate decides when the owning client transmits its transform: once it
// has moved more than MinDistance since the last sent sample, or once
// MinInterval has passed, whichever comes first.
type SendGate struct {
	MinDistance float64
	MinInterval time.Duration

	lastPos  Vec3
	lastSent time.Time
	primed   bool
}

// NewSendGate returns a gate with the given thresholds.
func NewSendGate(minDistance float64, minInterval time.Duration) *SendGate {
	return &SendGate{MinDistance: minDistance, MinInterval: minInterval}
}

// Ready reports whether a sample at pos should be sent at now.
// The first sample is always ready.
func (g *SendGate) Ready(pos Vec3, now time.Time) bool {
	if !g.primed {
		return true
	}
	if pos.Dist(g.lastPos) > g.MinDistance {
		return true
	}
	return now.Sub(g.lastSent) >= g.MinInterval
}

// Mark records that the sample at pos was sent at now.
func (g *SendGate) Mark(pos Vec3, now time.Time) {
	g.lastPos = pos
	g.lastSent = now
	g.primed = true
}
