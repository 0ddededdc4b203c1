// Package world provides the isolated entity store that backs a single room.
// Each World wraps its own donburi ECS world; entities created in one World
// are invisible to every other.
package world

import (
	"time"

	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"

	"github.com/cory-johannsen/arena/internal/game/netsync"
)

// Entity identifies an entity inside one World.
type Entity = donburi.Entity

// Component types carried by every player entity.
var (
	Player = donburi.NewComponentType[netsync.NetworkPlayer]()
	Input  = donburi.NewComponentType[netsync.NetworkInput]()
	Events = donburi.NewComponentType[netsync.NetworkEvents]()
)

var players = donburi.NewQuery(filter.Contains(Player, Input))

// World is one room's simulation world.
//
// World is not safe for concurrent use; the owning room drives it from the
// game loop.
type World struct {
	name      string
	ecs       donburi.World
	destroyed bool
}

// New creates an empty World.
func New(name string) *World {
	return &World{name: name, ecs: donburi.NewWorld()}
}

// Name returns the world's name.
func (w *World) Name() string { return w.name }

// CreatePlayer creates an entity carrying NetworkPlayer, NetworkInput and
// NetworkEvents components for clientID.
//
// Precondition: the World must not be destroyed.
// Postcondition: Player(e) returns a player at the origin with full health.
func (w *World) CreatePlayer(clientID, name string, now time.Time) Entity {
	if w.destroyed {
		panic("world.CreatePlayer: world " + w.name + " is destroyed")
	}
	e := w.ecs.Create(Player, Input, Events)
	entry := w.ecs.Entry(e)
	Player.SetValue(entry, netsync.NewNetworkPlayer(clientID, name, false, now))
	Input.SetValue(entry, netsync.NewNetworkInput())
	Events.SetValue(entry, netsync.NetworkEvents{})
	return e
}

// DestroyEntity removes e. It reports whether e was alive.
func (w *World) DestroyEntity(e Entity) bool {
	if w.destroyed || !w.ecs.Valid(e) {
		return false
	}
	w.ecs.Remove(e)
	return true
}

// Valid reports whether e is alive in this World.
func (w *World) Valid(e Entity) bool {
	return !w.destroyed && w.ecs.Valid(e)
}

// Player returns e's NetworkPlayer, or nil if e is not alive. The pointer is
// only valid until the next entity is created or destroyed.
func (w *World) Player(e Entity) *netsync.NetworkPlayer {
	if !w.Valid(e) {
		return nil
	}
	return Player.Get(w.ecs.Entry(e))
}

// Input returns e's NetworkInput, or nil if e is not alive.
func (w *World) Input(e Entity) *netsync.NetworkInput {
	if !w.Valid(e) {
		return nil
	}
	return Input.Get(w.ecs.Entry(e))
}

// Events returns e's NetworkEvents, or nil if e is not alive.
func (w *World) Events(e Entity) *netsync.NetworkEvents {
	if !w.Valid(e) {
		return nil
	}
	return Events.Get(w.ecs.Entry(e))
}

// Len returns the number of live entities.
func (w *World) Len() int {
	if w.destroyed {
		return 0
	}
	return w.ecs.Len()
}

// Update advances the world by dt: stale unacknowledged inputs are pruned
// and remote transforms are blended toward their latest samples.
func (w *World) Update(dt time.Duration, now time.Time) {
	if w.destroyed {
		return
	}
	players.Each(w.ecs, func(entry *donburi.Entry) {
		Input.Get(entry).CleanupOldInputs(now, netsync.DefaultInputMaxAge)
		Player.Get(entry).Interpolate(dt)
	})
}

// Destroy removes every entity. Further calls on the World are no-ops,
// except CreatePlayer which panics. Destroy is idempotent.
func (w *World) Destroy() {
	if w.destroyed {
		return
	}
	var all []Entity
	players.Each(w.ecs, func(entry *donburi.Entry) {
		all = append(all, entry.Entity())
	})
	for _, e := range all {
		w.ecs.Remove(e)
	}
	w.destroyed = true
}
