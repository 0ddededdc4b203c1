// Package room implements game rooms and the manager that matches players
// into them. Each Room owns an isolated world and a lifecycle state machine;
// the Manager owns every Room.
//
// Neither type is safe for concurrent use. The game loop drives both.
package room

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/game/clock"
	"github.com/cory-johannsen/arena/internal/game/netsync"
	"github.com/cory-johannsen/arena/internal/game/world"
	"github.com/cory-johannsen/arena/internal/rpc"
)

// State is a room's lifecycle state.
type State string

const (
	StateWaiting  State = "waiting"
	StateStarting State = "starting"
	StatePlaying  State = "playing"
	StateEnded    State = "ended"
)

const (
	// DefaultGameMode is used when a Config leaves GameMode empty.
	DefaultGameMode = "default"
	// DefaultStartCountdown is the STARTING to PLAYING delay.
	DefaultStartCountdown = 3 * time.Second
)

// Game message types accepted by HandleGameMessage.
const (
	MessagePlayerInput = "player_input"
	MessagePlayerShoot = "player_shoot"
)

var (
	// ErrRoomExists is returned when creating a room with a duplicate id.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomFull is returned when a room is at capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrDuplicatePlayer is returned when a player is already in the room.
	ErrDuplicatePlayer = errors.New("player already in room")
	// ErrRoomClosed is returned when a room no longer accepts joins.
	ErrRoomClosed = errors.New("room is not accepting players")
)

// Config describes a room at creation.
type Config struct {
	ID             string
	Name           string
	MaxPlayers     int
	GameMode       string
	IsPrivate      bool
	StartCountdown time.Duration
}

// PlayerSession is a room's record of one member. The replicated state lives
// on the world entity.
type PlayerSession struct {
	ID       string
	Name     string
	Team     int
	Entity   world.Entity
	JoinTime time.Time
	IsReady  bool
}

// GameMessage is an in-room message routed to HandleGameMessage.
type GameMessage struct {
	Type    string `json:"gameMessageType"`
	Payload any    `json:"payload"`
}

type playerInput struct {
	InputDirection netsync.Vec3  `json:"inputDirection"`
	Position       netsync.Vec3  `json:"position"`
	Rotation       float64       `json:"rotation"`
	Velocity       *netsync.Vec3 `json:"velocity"`
}

type playerShoot struct {
	TargetPosition netsync.Vec3 `json:"targetPosition"`
	WeaponType     string       `json:"weaponType"`
}

func (in playerInput) Validate() error {
	if !in.InputDirection.IsFinite() || !in.Position.IsFinite() || !netsync.IsFinite(in.Rotation) ||
		(in.Velocity != nil && !in.Velocity.IsFinite()) {
		return errors.New("player_input has a non-finite coordinate")
	}
	return nil
}

func (in playerShoot) Validate() error {
	if !in.TargetPosition.IsFinite() {
		return errors.New("player_shoot has a non-finite target")
	}
	return nil
}

// PlayerStatus is one member in a Status.
type PlayerStatus struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsReady  bool   `json:"isReady"`
	JoinTime int64  `json:"joinTime"`
}

// Status is a serialisable summary of a room.
type Status struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	State       State          `json:"state"`
	PlayerCount int            `json:"playerCount"`
	MaxPlayers  int            `json:"maxPlayers"`
	HostID      string         `json:"hostId"`
	Players     []PlayerStatus `json:"players"`
	CreatedAt   int64          `json:"createdAt"`
	GameMode    string         `json:"gameMode"`
	IsPrivate   bool           `json:"isPrivate"`
}

// Room is one isolated game instance.
type Room struct {
	cfg        Config
	state      State
	world      *world.World
	players    map[string]*PlayerSession
	order      []string
	hostID     string
	createdAt  time.Time
	emptySince time.Time
	sched      *clock.Scheduler
	countdown  clock.TimerID
	destroyed  bool
	logger     *zap.Logger
}

// New creates a WAITING room with its own world.
//
// Precondition: cfg.ID must be non-empty and cfg.MaxPlayers at least 1.
// Postcondition: the room is empty, has no host and EmptySince equals
// CreatedAt.
func New(cfg Config, sched *clock.Scheduler, logger *zap.Logger) (*Room, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("room id must not be empty")
	}
	if cfg.MaxPlayers < 1 {
		return nil, fmt.Errorf("room %s: max players must be >= 1, got %d", cfg.ID, cfg.MaxPlayers)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.GameMode == "" {
		cfg.GameMode = DefaultGameMode
	}
	if cfg.StartCountdown <= 0 {
		cfg.StartCountdown = DefaultStartCountdown
	}
	now := sched.Now()
	return &Room{
		cfg:        cfg,
		state:      StateWaiting,
		world:      world.New(cfg.ID),
		players:    make(map[string]*PlayerSession),
		createdAt:  now,
		emptySince: now,
		sched:      sched,
		logger:     logger.With(zap.String("room_id", cfg.ID)),
	}, nil
}

// ID returns the room id.
func (r *Room) ID() string { return r.cfg.ID }

// Name returns the display name.
func (r *Room) Name() string { return r.cfg.Name }

func (r *Room) MaxPlayers() int { return r.cfg.MaxPlayers }

func (r *Room) GameMode() string { return r.cfg.GameMode }

func (r *Room) IsPrivate() bool { return r.cfg.IsPrivate }

// State returns the lifecycle state.
func (r *Room) State() State { return r.state }

// World returns the room's isolated world.
func (r *Room) World() *world.World { return r.world }

func (r *Room) PlayerCount() int { return len(r.players) }

func (r *Room) IsFull() bool { return len(r.players) >= r.cfg.MaxPlayers }

func (r *Room) IsEmpty() bool { return len(r.players) == 0 }

func (r *Room) CreatedAt() time.Time { return r.createdAt }

// HostID returns the current host, or "" for an empty room.
func (r *Room) HostID() string { return r.hostID }

// EmptySince returns when the room last became empty. It is the zero time
// while the room has members.
func (r *Room) EmptySince() time.Time {
	if len(r.players) > 0 {
		return time.Time{}
	}
	return r.emptySince
}

// Joinable reports whether the room's state accepts new members.
func (r *Room) Joinable() bool {
	return !r.destroyed && (r.state == StateWaiting || r.state == StateStarting)
}

// Join adds a player, reporting why it could not.
//
// Postcondition: on success the player has a world entity and, if the room
// was empty, is the host.
func (r *Room) Join(id, name string) error {
	if !r.Joinable() {
		return fmt.Errorf("room %s in state %s: %w", r.cfg.ID, r.state, ErrRoomClosed)
	}
	if _, ok := r.players[id]; ok {
		return fmt.Errorf("player %s: %w", id, ErrDuplicatePlayer)
	}
	if r.IsFull() {
		return fmt.Errorf("room %s: %w", r.cfg.ID, ErrRoomFull)
	}
	now := r.sched.Now()
	e := r.world.CreatePlayer(id, name, now)
	np := r.world.Player(e)
	ps := &PlayerSession{
		ID:       id,
		Name:     np.PlayerName,
		Team:     np.Team,
		Entity:   e,
		JoinTime: now,
	}
	r.players[id] = ps
	r.order = append(r.order, id)
	if r.hostID == "" {
		r.hostID = id
		np.IsHost = true
	}
	r.logger.Info("player joined",
		zap.String("client_id", id),
		zap.Int("players", len(r.players)),
		zap.Int("max_players", r.cfg.MaxPlayers),
	)
	return nil
}

// AddPlayer adds a player. It reports false when the room is full, the
// player is already present or the room is past STARTING.
func (r *Room) AddPlayer(id, name string) bool {
	return r.Join(id, name) == nil
}

// RemovePlayer removes a player and its entity. It reports whether the
// player was present. A room left empty transitions to ENDED.
func (r *Room) RemovePlayer(id string) bool {
	ps, ok := r.players[id]
	if !ok {
		return false
	}
	r.world.DestroyEntity(ps.Entity)
	delete(r.players, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.hostID == id {
		r.hostID = ""
		if next := r.oldest(); next != nil {
			r.hostID = next.ID
			if np := r.world.Player(next.Entity); np != nil {
				np.IsHost = true
			}
			r.logger.Info("host reassigned", zap.String("client_id", next.ID))
		}
	}
	r.logger.Info("player left", zap.String("client_id", id), zap.Int("players", len(r.players)))
	if len(r.players) == 0 {
		r.emptySince = r.sched.Now()
		if r.state != StateEnded {
			r.cancelCountdown()
			r.state = StateEnded
			r.logger.Info("room ended", zap.String("reason", "empty"))
		}
	}
	return true
}

// oldest returns the member with the earliest join time, breaking ties by
// join order.
func (r *Room) oldest() *PlayerSession {
	var best *PlayerSession
	for _, id := range r.order {
		ps := r.players[id]
		if best == nil || ps.JoinTime.Before(best.JoinTime) {
			best = ps
		}
	}
	return best
}

// Player returns a member's session.
func (r *Room) Player(id string) (*PlayerSession, bool) {
	ps, ok := r.players[id]
	return ps, ok
}

// NetworkPlayer returns a member's replicated state, or nil.
func (r *Room) NetworkPlayer(id string) *netsync.NetworkPlayer {
	ps, ok := r.players[id]
	if !ok {
		return nil
	}
	return r.world.Player(ps.Entity)
}

// Players returns the members in join order.
func (r *Room) Players() []*PlayerSession {
	out := make([]*PlayerSession, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.players[id])
	}
	return out
}

// SetPlayerReady sets a member's ready flag. It reports false for unknown
// players.
func (r *Room) SetPlayerReady(id string, ready bool) bool {
	ps, ok := r.players[id]
	if !ok {
		return false
	}
	ps.IsReady = ready
	if np := r.world.Player(ps.Entity); np != nil {
		np.SetReady(ready, r.sched.Now())
	}
	return true
}

// AreAllPlayersReady reports whether the room has members and all are ready.
func (r *Room) AreAllPlayersReady() bool {
	if len(r.players) == 0 {
		return false
	}
	for _, ps := range r.players {
		if !ps.IsReady {
			return false
		}
	}
	return true
}

// StartGame moves a WAITING room with members to STARTING and arms the
// countdown to PLAYING. It reports false otherwise.
func (r *Room) StartGame() bool {
	if r.destroyed || r.state != StateWaiting || len(r.players) == 0 {
		return false
	}
	r.state = StateStarting
	r.countdown = r.sched.After(r.cfg.StartCountdown, func() {
		r.countdown = 0
		if r.state == StateStarting {
			r.state = StatePlaying
			r.logger.Info("game started")
		}
	})
	r.logger.Info("game starting", zap.Duration("countdown", r.cfg.StartCountdown))
	return true
}

// EndGame moves the room to ENDED.
func (r *Room) EndGame() {
	r.cancelCountdown()
	r.state = StateEnded
	r.logger.Info("game ended")
}

// Reset returns the room to WAITING from any state and clears every ready
// flag.
func (r *Room) Reset() {
	if r.destroyed {
		return
	}
	r.cancelCountdown()
	r.state = StateWaiting
	now := r.sched.Now()
	for _, ps := range r.players {
		ps.IsReady = false
		if np := r.world.Player(ps.Entity); np != nil {
			np.SetReady(false, now)
		}
	}
}

func (r *Room) cancelCountdown() {
	if r.countdown != 0 {
		r.sched.Cancel(r.countdown)
		r.countdown = 0
	}
}

// HandleGameMessage applies an in-room message to the sender's own entity.
// It reports false for unknown senders, unknown types and malformed
// payloads.
func (r *Room) HandleGameMessage(sender string, msg GameMessage) bool {
	ps, ok := r.players[sender]
	if !ok {
		return false
	}
	now := r.sched.Now()
	switch msg.Type {
	case MessagePlayerInput:
		var in playerInput
		if err := rpc.Decode(msg.Payload, &in); err != nil {
			r.logger.Warn("bad player_input payload", zap.String("client_id", sender), zap.Error(err))
			return false
		}
		r.world.Player(ps.Entity).UpdateNetworkTransform(in.Position, in.Rotation, in.Velocity, now)
		r.world.Input(ps.Entity).AddInput(in.InputDirection, in.Position, now)
		return true
	case MessagePlayerShoot:
		var in playerShoot
		if err := rpc.Decode(msg.Payload, &in); err != nil {
			r.logger.Warn("bad player_shoot payload", zap.String("client_id", sender), zap.Error(err))
			return false
		}
		r.world.Events(ps.Entity).CreateShootEvent(in.TargetPosition, in.WeaponType, now)
		r.world.Player(ps.Entity).Touch(now)
		return true
	default:
		r.logger.Debug("unknown game message", zap.String("client_id", sender), zap.String("type", msg.Type))
		return false
	}
}

// Update advances the room's world by dt.
func (r *Room) Update(dt time.Duration) {
	if r.destroyed {
		return
	}
	r.world.Update(dt, r.sched.Now())
}

// Destroy removes every member, destroys the world and ends the room.
// Destroy is idempotent.
func (r *Room) Destroy() {
	if r.destroyed {
		return
	}
	for _, id := range append([]string(nil), r.order...) {
		r.RemovePlayer(id)
	}
	r.cancelCountdown()
	r.world.Destroy()
	r.state = StateEnded
	r.destroyed = true
	r.logger.Info("room destroyed")
}

// Status summarises the room.
func (r *Room) Status() Status {
	players := make([]PlayerStatus, 0, len(r.order))
	for _, ps := range r.Players() {
		players = append(players, PlayerStatus{
			ID:       ps.ID,
			Name:     ps.Name,
			IsReady:  ps.IsReady,
			JoinTime: ps.JoinTime.UnixMilli(),
		})
	}
	return Status{
		ID:          r.cfg.ID,
		Name:        r.cfg.Name,
		State:       r.state,
		PlayerCount: len(r.players),
		MaxPlayers:  r.cfg.MaxPlayers,
		HostID:      r.hostID,
		Players:     players,
		CreatedAt:   r.createdAt.UnixMilli(),
		GameMode:    r.cfg.GameMode,
		IsPrivate:   r.cfg.IsPrivate,
	}
}
