package netsync

import "time"

// ShootEvent is a sequenced record of one shot fired by a player.
type ShootEvent struct {
	TargetPosition Vec3      `json:"targetPosition" msgpack:"targetPosition"`
	WeaponType     string    `json:"weaponType" msgpack:"weaponType"`
	Timestamp      time.Time `json:"timestamp" msgpack:"timestamp"`
	Sequence       uint32    `json:"sequence" msgpack:"sequence"`
}

// DamageEvent records damage dealt by SourceID to TargetID.
type DamageEvent struct {
	Damage    int       `json:"damage" msgpack:"damage"`
	TargetID  string    `json:"targetId" msgpack:"targetId"`
	SourceID  string    `json:"sourceId" msgpack:"sourceId"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// NetworkEvents issues the discrete gameplay events a player originates.
type NetworkEvents struct {
	LastEventSequence uint32
	// LastShot is the most recent shoot event, zero before the first shot.
	LastShot ShootEvent
}

// CreateShootEvent returns the next sequenced shoot event. An empty weapon
// type is recorded as "default".
func (e *NetworkEvents) CreateShootEvent(target Vec3, weapon string, now time.Time) ShootEvent {
	if weapon == "" {
		weapon = "default"
	}
	e.LastEventSequence++
	e.LastShot = ShootEvent{
		TargetPosition: target,
		WeaponType:     weapon,
		Timestamp:      now,
		Sequence:       e.LastEventSequence,
	}
	return e.LastShot
}

// CreateDamageEvent returns a damage record. Damage events are not sequenced.
func (e *NetworkEvents) CreateDamageEvent(damage int, targetID, sourceID string, now time.Time) DamageEvent {
	return DamageEvent{
		Damage:    damage,
		TargetID:  targetID,
		SourceID:  sourceID,
		Timestamp: now,
	}
}
