package gameserver

import (
	"github.com/cory-johannsen/arena/internal/game/netsync"
	"github.com/cory-johannsen/arena/internal/game/room"
	"github.com/cory-johannsen/arena/internal/rpc"
)

// playerData builds the wire view of clientID in r.
//
// Precondition: clientID is a member of r.
func (h *Handler) playerData(r *room.Room, clientID string) rpc.PlayerData {
	ps, _ := r.Player(clientID)
	np := r.NetworkPlayer(clientID)
	return rpc.PlayerData{
		ClientID:       clientID,
		PlayerName:     np.PlayerName,
		Position:       np.NetworkPosition,
		Rotation:       netsync.Vec3{Z: np.NetworkRotation},
		Health:         np.Health,
		Score:          np.Score,
		Kills:          np.Kills,
		Deaths:         np.Deaths,
		Team:           np.Team,
		IsReady:        ps.IsReady,
		IsHost:         r.HostID() == clientID,
		JoinTime:       ps.JoinTime.UnixMilli(),
		LastUpdateTime: np.LastUpdateTime.UnixMilli(),
	}
}

// gameState rebuilds r's snapshot. It is a read model; nothing reads it back.
func (h *Handler) gameState(r *room.Room) rpc.GameState {
	players := make([]rpc.PlayerData, 0, r.PlayerCount())
	for _, ps := range r.Players() {
		players = append(players, h.playerData(r, ps.ID))
	}
	return rpc.GameState{
		RoomID:       r.ID(),
		RoomState:    string(r.State()),
		HostPlayerID: r.HostID(),
		Players:      players,
		Enemies:      []rpc.Enemy{},
		Collectibles: []rpc.Collectible{},
		GameTime:     h.gameTime(r),
		WaveNumber:   1,
	}
}
