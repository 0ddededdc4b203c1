package gameserver

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cory-johannsen/arena/internal/game/room"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/rpc"
)

// broadcast calls method on every target except exclude, one goroutine per
// target, and waits for all of them. A failed delivery is logged and counted
// but never returned, so one unreachable client cannot affect the others.
func (h *Handler) broadcast(ctx context.Context, targets []string, exclude, method string, args ...any) {
	var g errgroup.Group
	for _, id := range targets {
		if id == exclude {
			continue
		}
		proxy, ok := h.proxies[id]
		if !ok {
			continue
		}
		h.metrics.Inc(observability.Broadcasts)
		g.Go(func() error {
			if err := proxy.Call(ctx, method, args...); err != nil {
				h.metrics.Inc(observability.DeliveryFailures)
				h.logger.Warn("push to client failed",
					zap.String("client_id", id),
					zap.String("method", method),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// broadcastToRoom delivers to r's members.
func (h *Handler) broadcastToRoom(ctx context.Context, r *room.Room, exclude, method string, args ...any) {
	players := r.Players()
	ids := make([]string, 0, len(players))
	for _, ps := range players {
		ids = append(ids, ps.ID)
	}
	h.broadcast(ctx, ids, exclude, method, args...)
}

// broadcastGameState sends each occupied room its own snapshot.
func (h *Handler) broadcastGameState(ctx context.Context) {
	for _, r := range h.rooms.Rooms() {
		if r.IsEmpty() {
			continue
		}
		h.broadcastToRoom(ctx, r, "", rpc.OnGameStateUpdate, h.gameState(r))
	}
}
