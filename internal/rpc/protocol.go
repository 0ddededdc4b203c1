// Package rpc defines the client/server remote-call protocol: method and
// callback names, request and response envelopes, payload structs and the
// codecs that move them over a transport.
package rpc

import (
	"context"
	"errors"

	"github.com/cory-johannsen/arena/internal/game/netsync"
)

// Client to server methods.
const (
	MethodJoinGame             = "joinGame"
	MethodUpdatePlayerPosition = "updatePlayerPosition"
	MethodPlayerShoot          = "playerShoot"
	MethodSendChatMessage      = "sendChatMessage"
	MethodPlayerHit            = "playerHit"
	MethodSetPlayerReady       = "setPlayerReady"
	MethodLeaveGame            = "leaveGame"
	MethodSendGameMessage      = "sendGameMessage"
	MethodGetGameStats         = "getGameStats"
)

// Server to client callbacks.
const (
	OnPlayerJoined         = "onPlayerJoined"
	OnPlayerLeft           = "onPlayerLeft"
	OnPlayerPositionUpdate = "onPlayerPositionUpdate"
	OnPlayerShoot          = "onPlayerShoot"
	OnChatMessage          = "onChatMessage"
	OnPlayerHit            = "onPlayerHit"
	OnPlayerReady          = "onPlayerReady"
	OnGameStateUpdate      = "onGameStateUpdate"
)

var (
	// ErrUnknownMethod is returned when a request names no registered method.
	ErrUnknownMethod = errors.New("unknown method")
	// ErrBadArgs is returned when request arguments cannot be decoded.
	ErrBadArgs = errors.New("bad arguments")

	errNonFinite = errors.New("non-finite coordinate")
)

// Proxy delivers server-pushed callbacks to one connected client.
// Implementations must not block for long: broadcasts wait for every
// target's Call to return.
type Proxy interface {
	Call(ctx context.Context, method string, args ...any) error
}

// ProxyFunc adapts a function into a Proxy.
type ProxyFunc func(ctx context.Context, method string, args ...any) error

// Call invokes f.
func (f ProxyFunc) Call(ctx context.Context, method string, args ...any) error {
	return f(ctx, method, args...)
}

// Request is one client call. SenderID is filled in by the transport from
// the connection, never from the payload.
type Request struct {
	Method   string `json:"method" msgpack:"method"`
	Args     []any  `json:"args" msgpack:"args"`
	SenderID string `json:"-" msgpack:"-"`
}

// Response is the outcome of one Request.
type Response struct {
	Success bool   `json:"success" msgpack:"success"`
	Result  any    `json:"result,omitempty" msgpack:"result,omitempty"`
	Error   string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// OK builds a successful Response.
func OK(result any) Response { return Response{Success: true, Result: result} }

// Fail builds an error Response.
func Fail(err error) Response { return Response{Success: false, Error: err.Error()} }

// PlayerData is the replicated view of one player sent to clients.
type PlayerData struct {
	ClientID       string       `json:"clientId" msgpack:"clientId"`
	PlayerName     string       `json:"playerName" msgpack:"playerName"`
	Position       netsync.Vec3 `json:"position" msgpack:"position"`
	Rotation       netsync.Vec3 `json:"rotation" msgpack:"rotation"`
	Health         int          `json:"health" msgpack:"health"`
	Score          int          `json:"score" msgpack:"score"`
	Kills          int          `json:"kills" msgpack:"kills"`
	Deaths         int          `json:"deaths" msgpack:"deaths"`
	Team           int          `json:"team" msgpack:"team"`
	IsReady        bool         `json:"isReady" msgpack:"isReady"`
	IsHost         bool         `json:"isHost" msgpack:"isHost"`
	JoinTime       int64        `json:"joinTime" msgpack:"joinTime"`
	LastUpdateTime int64        `json:"lastUpdateTime" msgpack:"lastUpdateTime"`
}

// Enemy is a non-player combatant in the snapshot.
type Enemy struct {
	ID       string       `json:"id" msgpack:"id"`
	Position netsync.Vec3 `json:"position" msgpack:"position"`
	Health   int          `json:"health" msgpack:"health"`
	Type     string       `json:"type" msgpack:"type"`
}

// Collectible is a pickup in the snapshot.
type Collectible struct {
	ID       string       `json:"id" msgpack:"id"`
	Position netsync.Vec3 `json:"position" msgpack:"position"`
	Type     string       `json:"type" msgpack:"type"`
}

// GameState is a read-only snapshot of one room, rebuilt before each
// broadcast. GameTime is in milliseconds since the room was created.
type GameState struct {
	RoomID       string        `json:"roomId" msgpack:"roomId"`
	RoomState    string        `json:"roomState" msgpack:"roomState"`
	HostPlayerID string        `json:"hostPlayerId" msgpack:"hostPlayerId"`
	Players      []PlayerData  `json:"players" msgpack:"players"`
	Enemies      []Enemy       `json:"enemies" msgpack:"enemies"`
	Collectibles []Collectible `json:"collectibles" msgpack:"collectibles"`
	GameTime     int64         `json:"gameTime" msgpack:"gameTime"`
	WaveNumber   int           `json:"waveNumber" msgpack:"waveNumber"`
}

// JoinResult answers joinGame.
type JoinResult struct {
	Success  bool   `json:"success" msgpack:"success"`
	PlayerID string `json:"playerId" msgpack:"playerId"`
	IsHost   bool   `json:"isHost" msgpack:"isHost"`
	RoomID   string `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
}

// PositionUpdate is a client's transform sample.
type PositionUpdate struct {
	Position  netsync.Vec3  `json:"position" msgpack:"position"`
	Rotation  netsync.Vec3  `json:"rotation" msgpack:"rotation"`
	Velocity  *netsync.Vec3 `json:"velocity,omitempty" msgpack:"velocity,omitempty"`
	Sequence  uint32        `json:"sequence,omitempty" msgpack:"sequence,omitempty"`
	Timestamp int64         `json:"timestamp" msgpack:"timestamp"`
}

// Validate rejects NaN and infinite coordinates, which no codec can relay.
func (u PositionUpdate) Validate() error {
	if !u.Position.IsFinite() || !u.Rotation.IsFinite() || (u.Velocity != nil && !u.Velocity.IsFinite()) {
		return errNonFinite
	}
	return nil
}

// ShootData describes a shot.
type ShootData struct {
	TargetPosition netsync.Vec3 `json:"targetPosition" msgpack:"targetPosition"`
	WeaponType     string       `json:"weaponType" msgpack:"weaponType"`
	Timestamp      int64        `json:"timestamp" msgpack:"timestamp"`
}

// Validate rejects a non-finite target position.
func (d ShootData) Validate() error {
	if !d.TargetPosition.IsFinite() {
		return errNonFinite
	}
	return nil
}

// ChatMessage is one chat line.
type ChatMessage struct {
	Message    string `json:"message" msgpack:"message"`
	PlayerName string `json:"playerName" msgpack:"playerName"`
	Timestamp  int64  `json:"timestamp" msgpack:"timestamp"`
}

// HitData is a client's claim that it hit TargetID.
type HitData struct {
	TargetID    string       `json:"targetId" msgpack:"targetId"`
	Damage      int          `json:"damage" msgpack:"damage"`
	WeaponType  string       `json:"weaponType" msgpack:"weaponType"`
	HitPosition netsync.Vec3 `json:"hitPosition" msgpack:"hitPosition"`
}

// Validate rejects a non-finite hit position.
func (d HitData) Validate() error {
	if !d.HitPosition.IsFinite() {
		return errNonFinite
	}
	return nil
}

// HitResult is the server's resolution of a hit.
type HitResult struct {
	Killed    bool `json:"killed" msgpack:"killed"`
	NewHealth int  `json:"newHealth" msgpack:"newHealth"`
}

// GameStats summarises the caller's room.
type GameStats struct {
	PlayerCount  int    `json:"playerCount" msgpack:"playerCount"`
	GameTime     int64  `json:"gameTime" msgpack:"gameTime"`
	WaveNumber   int    `json:"waveNumber" msgpack:"waveNumber"`
	HostPlayerID string `json:"hostPlayerId" msgpack:"hostPlayerId"`
	RoomID       string `json:"roomId" msgpack:"roomId"`
	RoomState    string `json:"roomState" msgpack:"roomState"`
}
