package netsync

import (
	"math"
	"time"
)

const (
	// DefaultMaxHealth is the health a player spawns and respawns with.
	DefaultMaxHealth = 100
	// DefaultInterpolationSpeed is the exponential smoothing rate for remote players.
	DefaultInterpolationSpeed = 10.0
	// ActivityWindow is how recently a player must have been updated to count as active.
	ActivityWindow = 30 * time.Second
	// rotationDeadbandSq is the squared speed below which remote rotation is held.
	rotationDeadbandSq = 1e-4
)

// NetworkPlayer is the replicated state of one connected player inside one
// room. The Network* fields are the latest authoritative sample; Position,
// Rotation and Velocity are the locally rendered values that remote views
// blend toward the sample.
//
// Invariant: 0 <= Health <= MaxHealth.
type NetworkPlayer struct {
	ClientID      string
	PlayerName    string
	Team          int
	IsLocalPlayer bool
	IsHost        bool
	IsReady       bool

	Score  int
	Kills  int
	Deaths int
	Health int
	// MaxHealth bounds Health; respawn restores Health to this value.
	MaxHealth int
	Ping      time.Duration

	NetworkPosition   Vec3
	NetworkRotation   float64
	NetworkVelocity   Vec3
	LastNetworkUpdate time.Time
	LastUpdateTime    time.Time
	JoinTime          time.Time

	EnableInterpolation bool
	EnablePrediction    bool
	InterpolationSpeed  float64
	LastInputSequence   uint32

	Position Vec3
	Rotation float64
	Velocity Vec3
}

// NewNetworkPlayer returns a player at the origin with full health.
// A blank name defaults to "Player_" plus the last four characters of clientID.
func NewNetworkPlayer(clientID, name string, local bool, now time.Time) NetworkPlayer {
	if name == "" {
		suffix := clientID
		if len(suffix) > 4 {
			suffix = suffix[len(suffix)-4:]
		}
		name = "Player_" + suffix
	}
	return NetworkPlayer{
		ClientID:            clientID,
		PlayerName:          name,
		IsLocalPlayer:       local,
		Health:              DefaultMaxHealth,
		MaxHealth:           DefaultMaxHealth,
		JoinTime:            now,
		LastUpdateTime:      now,
		LastNetworkUpdate:   now,
		EnableInterpolation: true,
		EnablePrediction:    true,
		InterpolationSpeed:  DefaultInterpolationSpeed,
	}
}

// UpdateNetworkTransform records a new authoritative sample. vel may be nil,
// in which case the previous network velocity is kept.
//
// Postcondition: LastNetworkUpdate and LastUpdateTime equal now.
func (p *NetworkPlayer) UpdateNetworkTransform(pos Vec3, rot float64, vel *Vec3, now time.Time) {
	p.NetworkPosition = pos
	p.NetworkRotation = rot
	if vel != nil {
		p.NetworkVelocity = *vel
	}
	p.LastNetworkUpdate = now
	p.LastUpdateTime = now
}

// Touch marks the player as active at now.
func (p *NetworkPlayer) Touch(now time.Time) {
	p.LastUpdateTime = now
}

// UpdateStats adds the given deltas to the player's score, kills and deaths.
func (p *NetworkPlayer) UpdateStats(kills, deaths, score int, now time.Time) {
	p.Kills += kills
	p.Deaths += deaths
	p.Score += score
	p.LastUpdateTime = now
}

// SetPing records the measured round trip.
func (p *NetworkPlayer) SetPing(rtt time.Duration, now time.Time) {
	p.Ping = rtt
	p.LastUpdateTime = now
}

// SetReady sets the lobby ready flag.
func (p *NetworkPlayer) SetReady(ready bool, now time.Time) {
	p.IsReady = ready
	p.LastUpdateTime = now
}

// SetHealth assigns health clamped to [0, MaxHealth].
func (p *NetworkPlayer) SetHealth(h int) {
	switch {
	case h < 0:
		h = 0
	case h > p.MaxHealth:
		h = p.MaxHealth
	}
	p.Health = h
}

// ApplyDamage subtracts damage from health, clamping at zero, and reports
// whether this hit took the player from alive to dead. Negative damage is
// treated as zero.
func (p *NetworkPlayer) ApplyDamage(damage int) (killed bool) {
	if damage < 0 {
		damage = 0
	}
	wasAlive := p.Health > 0
	p.SetHealth(p.Health - damage)
	return wasAlive && p.Health == 0
}

// IsAlive reports whether health is above zero.
func (p *NetworkPlayer) IsAlive() bool { return p.Health > 0 }

// Respawn restores full health and moves the player to spawn, both in the
// authoritative sample and the rendered transform.
func (p *NetworkPlayer) Respawn(spawn Vec3, now time.Time) {
	p.Health = p.MaxHealth
	p.NetworkPosition = spawn
	p.NetworkVelocity = Vec3{}
	p.Position = spawn
	p.Velocity = Vec3{}
	p.LastNetworkUpdate = now
}

// IsActive reports whether the player was updated within ActivityWindow of now.
func (p *NetworkPlayer) IsActive(now time.Time) bool {
	return p.IsActiveWithin(now, ActivityWindow)
}

// IsActiveWithin reports whether the player was updated less than window
// before now.
func (p *NetworkPlayer) IsActiveWithin(now time.Time, window time.Duration) bool {
	return now.Sub(p.LastUpdateTime) < window
}

// SessionTime returns how long the player has been connected.
func (p *NetworkPlayer) SessionTime(now time.Time) time.Duration {
	return now.Sub(p.JoinTime)
}

// InterpolatedPosition returns the rendered position blended toward the
// network sample by min(1, dt*InterpolationSpeed). Local players and players
// with interpolation disabled return the rendered position unchanged.
func (p *NetworkPlayer) InterpolatedPosition(dt time.Duration) Vec3 {
	if !p.EnableInterpolation || p.IsLocalPlayer {
		return p.Position
	}
	return p.Position.Lerp(p.NetworkPosition, p.lerpFactor(dt))
}

func (p *NetworkPlayer) lerpFactor(dt time.Duration) float64 {
	speed := p.InterpolationSpeed
	if speed <= 0 {
		speed = DefaultInterpolationSpeed
	}
	return math.Min(1, dt.Seconds()*speed)
}

// Interpolate advances a remote player's rendered transform by one frame.
// With interpolation enabled the position is smoothed toward the latest
// sample and the velocity recomputed from the blended motion; rotation only
// follows the velocity heading once the squared speed clears a small
// deadband. With interpolation disabled the transform snaps to the sample.
// Local players are never driven from the network.
func (p *NetworkPlayer) Interpolate(dt time.Duration) {
	if p.IsLocalPlayer {
		return
	}
	if !p.EnableInterpolation {
		p.Position = p.NetworkPosition
		p.Rotation = p.NetworkRotation
		p.Velocity = p.NetworkVelocity
		return
	}
	secs := dt.Seconds()
	if secs <= 0 {
		return
	}
	prev := p.Position
	p.Position = p.Position.Lerp(p.NetworkPosition, p.lerpFactor(dt))
	p.Velocity = p.Position.Sub(prev).Scale(1 / secs)
	if p.Velocity.X*p.Velocity.X+p.Velocity.Y*p.Velocity.Y > rotationDeadbandSq {
		p.Rotation = math.Atan2(p.Velocity.Y, p.Velocity.X)
	}
}
