package gameserver

import (
	"context"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/game/netsync"
	"github.com/cory-johannsen/arena/internal/game/room"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/rpc"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

// JoinGame matches sender into a room.
//
// A version other than the configured game version is rejected. A sender
// already in a room gets its existing record back with no broadcast.
// Otherwise the sender joins the fullest open room of mode, or a fresh one;
// the room's peers receive onPlayerJoined and the joiner receives a full
// onGameStateUpdate followed by one onPlayerJoined per existing peer.
//
// Postcondition: Success is true iff sender is in a room on return.
func (h *Handler) JoinGame(ctx context.Context, sender, name, version, mode string) rpc.JoinResult {
	if version != h.rules.GameVersion {
		h.logger.Info("join rejected: version mismatch",
			zap.String("client_id", sender),
			zap.String("version", version),
			zap.String("want", h.rules.GameVersion),
		)
		return rpc.JoinResult{}
	}
	if r := h.rooms.FindRoomByPlayer(sender); r != nil {
		return rpc.JoinResult{
			Success:  true,
			PlayerID: sender,
			IsHost:   r.HostID() == sender,
			RoomID:   r.ID(),
		}
	}

	r := h.rooms.AssignRoomForPlayer(sender, name, mode)
	if r == nil {
		r = h.rooms.CreateAndAssignRoom(sender, name, mode)
		if r == nil {
			h.logger.Warn("join failed: no room available", zap.String("client_id", sender))
			return rpc.JoinResult{}
		}
		h.metrics.Inc(observability.RoomsCreated)
	}
	h.metrics.Inc(observability.PlayersJoined)

	np := r.NetworkPlayer(sender)
	np.MaxHealth = h.rules.MaxHealth
	np.SetHealth(h.rules.MaxHealth)

	data := h.playerData(r, sender)
	h.broadcastToRoom(ctx, r, sender, rpc.OnPlayerJoined, data)

	if proxy, ok := h.proxies[sender]; ok {
		if err := proxy.Call(ctx, rpc.OnGameStateUpdate, h.gameState(r)); err != nil {
			h.logger.Warn("sending initial state failed", zap.String("client_id", sender), zap.Error(err))
		} else {
			for _, ps := range r.Players() {
				if ps.ID == sender {
					continue
				}
				if err := proxy.Call(ctx, rpc.OnPlayerJoined, h.playerData(r, ps.ID)); err != nil {
					h.logger.Warn("sending peer backfill failed", zap.String("client_id", sender), zap.Error(err))
					break
				}
			}
		}
	}

	h.logger.Info("player joined game",
		zap.String("client_id", sender),
		zap.String("room_id", r.ID()),
		zap.Bool("host", r.HostID() == sender),
	)
	return rpc.JoinResult{
		Success:  true,
		PlayerID: sender,
		IsHost:   r.HostID() == sender,
		RoomID:   r.ID(),
	}
}

// UpdatePlayerPosition stores sender's transform sample and relays it to the
// room's other members. Rotation.Z carries the yaw.
func (h *Handler) UpdatePlayerPosition(ctx context.Context, sender string, upd rpc.PositionUpdate) {
	r, np := h.lookup(sender)
	if np == nil {
		return
	}
	np.UpdateNetworkTransform(upd.Position, upd.Rotation.Z, upd.Velocity, h.sched.Now())
	if upd.Sequence > np.LastInputSequence {
		np.LastInputSequence = upd.Sequence
	}
	h.broadcastToRoom(ctx, r, sender, rpc.OnPlayerPositionUpdate, sender, upd)
}

// PlayerShoot records a shoot event for sender and relays the shot to the
// room's other members.
func (h *Handler) PlayerShoot(ctx context.Context, sender string, shot rpc.ShootData) {
	r, np := h.lookup(sender)
	if np == nil {
		return
	}
	now := h.sched.Now()
	if ps, ok := r.Player(sender); ok {
		if ev := r.World().Events(ps.Entity); ev != nil {
			ev.CreateShootEvent(shot.TargetPosition, shot.WeaponType, now)
		}
	}
	np.Touch(now)
	h.broadcastToRoom(ctx, r, sender, rpc.OnPlayerShoot, sender, shot)
}

// SendChatMessage relays a chat line to every member of sender's room,
// sender included. The game mode's chat filter may rewrite or drop it.
func (h *Handler) SendChatMessage(ctx context.Context, sender string, msg rpc.ChatMessage) {
	r, np := h.lookup(sender)
	if np == nil {
		return
	}
	np.Touch(h.sched.Now())
	if h.scripts != nil {
		text, ok := h.scripts.OnChat(r.GameMode(), sender, msg.Message)
		if !ok {
			h.logger.Debug("chat dropped by filter", zap.String("client_id", sender))
			return
		}
		msg.Message = text
	}
	h.broadcastToRoom(ctx, r, "", rpc.OnChatMessage, sender, msg)
}

// PlayerHit resolves sender's claimed hit on hit.TargetID. Both must be in
// the same room; otherwise nothing changes and the result reports the
// configured max health.
//
// A hit that takes the target to zero health credits the attacker with a
// kill and the kill award, counts a death for the target and schedules its
// respawn. The outcome is broadcast to the whole room.
func (h *Handler) PlayerHit(ctx context.Context, sender string, hit rpc.HitData) rpc.HitResult {
	r, attacker := h.lookup(sender)
	miss := rpc.HitResult{Killed: false, NewHealth: h.rules.MaxHealth}
	if attacker == nil {
		return miss
	}
	target := r.NetworkPlayer(hit.TargetID)
	if target == nil {
		return miss
	}

	now := h.sched.Now()
	killed := target.ApplyDamage(hit.Damage)
	target.Touch(now)
	if ps, ok := r.Player(hit.TargetID); ok {
		if ev := r.World().Events(ps.Entity); ev != nil {
			ev.CreateDamageEvent(hit.Damage, hit.TargetID, sender, now)
		}
	}
	if killed {
		award := h.rules.KillScore
		if h.scripts != nil {
			award = h.scripts.OnKill(r.GameMode(), sender, hit.TargetID, h.rules.KillScore)
		}
		target.UpdateStats(0, 1, 0, now)
		attacker.UpdateStats(1, 0, award, now)
		h.metrics.Inc(observability.Kills)
		h.scheduleRespawn(r.ID(), hit.TargetID)
		h.logger.Info("player killed",
			zap.String("room_id", r.ID()),
			zap.String("client_id", hit.TargetID),
			zap.String("attacker", sender),
			zap.Int("award", award),
		)
	}

	result := rpc.HitResult{Killed: killed, NewHealth: target.Health}
	h.broadcastToRoom(ctx, r, "", rpc.OnPlayerHit, sender, hit, result)
	return result
}

// scheduleRespawn restores the target to full health at the origin after the
// respawn delay, provided it is still in the same room.
func (h *Handler) scheduleRespawn(roomID, clientID string) {
	h.sched.After(h.rules.RespawnDelay, func() {
		r := h.rooms.Room(roomID)
		if r == nil {
			return
		}
		np := r.NetworkPlayer(clientID)
		if np == nil {
			return
		}
		np.Respawn(netsync.Origin, h.sched.Now())
		h.logger.Debug("player respawned", zap.String("room_id", roomID), zap.String("client_id", clientID))
	})
}

// SetPlayerReady sets sender's ready flag, tells the room's other members,
// and starts the room when auto-start conditions hold.
func (h *Handler) SetPlayerReady(ctx context.Context, sender string, ready bool) {
	r, np := h.lookup(sender)
	if np == nil {
		return
	}
	r.SetPlayerReady(sender, ready)
	h.broadcastToRoom(ctx, r, sender, rpc.OnPlayerReady, sender, ready)

	if h.autoStartMin > 0 && r.State() == room.StateWaiting &&
		r.PlayerCount() >= h.autoStartMin && r.AreAllPlayersReady() {
		r.StartGame()
	}
}

// LeaveGame removes sender from its room.
func (h *Handler) LeaveGame(ctx context.Context, sender string) {
	h.leave(ctx, sender, "leave")
}

// leave is the single removal path shared by explicit leave, disconnect and
// the inactivity sweep. The room's remaining members receive onPlayerLeft.
func (h *Handler) leave(ctx context.Context, clientID, reason string) {
	r := h.rooms.FindRoomByPlayer(clientID)
	if r == nil {
		return
	}
	h.record(r, clientID)
	r.RemovePlayer(clientID)
	h.metrics.Inc(observability.PlayersLeft)
	h.logger.Info("player left game",
		zap.String("client_id", clientID),
		zap.String("room_id", r.ID()),
		zap.String("reason", reason),
		zap.String("host", r.HostID()),
	)
	h.broadcastToRoom(ctx, r, "", rpc.OnPlayerLeft, clientID)
}

// record hands the leaving player's tally to the recorder off the loop.
func (h *Handler) record(r *room.Room, clientID string) {
	if h.recorder == nil {
		return
	}
	ps, ok := r.Player(clientID)
	np := r.NetworkPlayer(clientID)
	if !ok || np == nil {
		return
	}
	res := postgres.PlayerResult{
		RoomID:     r.ID(),
		PlayerID:   clientID,
		PlayerName: ps.Name,
		GameMode:   r.GameMode(),
		Kills:      np.Kills,
		Deaths:     np.Deaths,
		Score:      np.Score,
		JoinedAt:   ps.JoinTime,
		LeftAt:     h.sched.Now(),
	}
	h.recording.Add(1)
	go func() {
		defer h.recording.Done()
		ctx, cancel := context.WithTimeout(context.Background(), DefaultRecordTimeout)
		defer cancel()
		if _, err := h.recorder.RecordResult(ctx, res); err != nil {
			h.logger.Warn("recording match result",
				zap.String("client_id", res.PlayerID),
				zap.String("room_id", res.RoomID),
				zap.Error(err),
			)
		}
	}()
}

// SendGameMessage routes an in-room message to sender's room. It reports
// whether the room accepted it.
func (h *Handler) SendGameMessage(_ context.Context, sender string, msg room.GameMessage) bool {
	return h.rooms.RoutePlayerMessage(sender, msg)
}

// GameStats summarises sender's room. A sender in no room gets the server
// wide player count and nothing else.
func (h *Handler) GameStats(sender string) rpc.GameStats {
	r := h.rooms.FindRoomByPlayer(sender)
	if r == nil {
		return rpc.GameStats{PlayerCount: h.rooms.PlayerCount(), WaveNumber: 1}
	}
	return rpc.GameStats{
		PlayerCount:  r.PlayerCount(),
		GameTime:     h.gameTime(r),
		WaveNumber:   1,
		HostPlayerID: r.HostID(),
		RoomID:       r.ID(),
		RoomState:    string(r.State()),
	}
}

// lookup returns clientID's room and replicated state, or nils.
func (h *Handler) lookup(clientID string) (*room.Room, *netsync.NetworkPlayer) {
	r := h.rooms.FindRoomByPlayer(clientID)
	if r == nil {
		return nil, nil
	}
	return r, r.NetworkPlayer(clientID)
}

func (h *Handler) gameTime(r *room.Room) int64 {
	return h.sched.Now().Sub(r.CreatedAt()).Milliseconds()
}

// sweepInactive removes every player whose last update is at least the
// inactivity timeout old, exactly as an explicit leave.
func (h *Handler) sweepInactive(ctx context.Context) {
	now := h.sched.Now()
	var stale []string
	for _, r := range h.rooms.Rooms() {
		for _, ps := range r.Players() {
			np := r.NetworkPlayer(ps.ID)
			if np != nil && !np.IsActiveWithin(now, h.rules.InactivityTimeout) {
				stale = append(stale, ps.ID)
			}
		}
	}
	for _, id := range stale {
		h.leave(ctx, id, "inactive")
	}
	if len(stale) > 0 {
		h.logger.Info("inactive players removed",
			zap.Int("removed", len(stale)),
			zap.Duration("timeout", h.rules.InactivityTimeout),
		)
	}
}

// CloseRoom removes every member of roomID as an explicit leave would, then
// removes the room. It reports false for an unknown room.
func (h *Handler) CloseRoom(ctx context.Context, roomID string) bool {
	r := h.rooms.Room(roomID)
	if r == nil {
		return false
	}
	for _, ps := range r.Players() {
		h.leave(ctx, ps.ID, "room closed")
	}
	return h.rooms.RemoveRoom(roomID)
}
