// Package gameserver hosts the authoritative RPC handler, the game loop that
// serialises access to it, and the transports that feed it.
package gameserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/clock"
	"github.com/cory-johannsen/arena/internal/game/room"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/rpc"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

// DefaultRecordTimeout bounds one match result write.
const DefaultRecordTimeout = 5 * time.Second

// ResultRecorder persists a player's tally when the player leaves.
//
// Precondition: res.RoomID and res.PlayerID are non-empty.
// Postcondition: Returns nil on success or a non-nil error on failure.
type ResultRecorder interface {
	RecordResult(ctx context.Context, res postgres.PlayerResult) (int64, error)
}

// Scripts supplies game-mode rule overrides.
type Scripts interface {
	OnKill(mode, attackerID, targetID string, defaultScore int) int
	OnChat(mode, senderID, message string) (string, bool)
}

// method is one registry entry.
type method struct {
	// requiresPlayer methods answer absent without running when the sender
	// has no player record.
	requiresPlayer bool
	absent         any
	invoke         func(ctx context.Context, sender string, args []any) (any, error)
}

// Option configures a Handler.
type Option func(*Handler)

// WithRecorder persists each leaving player's result through rec.
func WithRecorder(rec ResultRecorder) Option {
	return func(h *Handler) { h.recorder = rec }
}

// WithScripts routes kill scoring and chat filtering through s.
func WithScripts(s Scripts) Option {
	return func(h *Handler) { h.scripts = s }
}

// WithMetrics counts calls, broadcasts and membership changes in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithAutoStart starts a WAITING room once every member is ready and at least
// minPlayers are present. minPlayers <= 0 disables auto-start.
func WithAutoStart(minPlayers int) Option {
	return func(h *Handler) { h.autoStartMin = minPlayers }
}

// WithRoomDefaults applies the rooms section: auto-start settings.
func WithRoomDefaults(cfg config.RoomsConfig) Option {
	return func(h *Handler) {
		h.autoStartMin = 0
		if cfg.AutoStart {
			h.autoStartMin = cfg.MinPlayersToStart
		}
	}
}

// Handler is the authoritative RPC handler. It owns the client proxies and
// resolves every client intent against the room manager.
//
// Handler is not safe for concurrent use; the Loop goroutine drives it.
type Handler struct {
	rules        config.RulesConfig
	rooms        *room.Manager
	sched        *clock.Scheduler
	proxies      map[string]rpc.Proxy
	limiters     map[string]*rate.Limiter
	methods      map[string]method
	recorder     ResultRecorder
	scripts      Scripts
	metrics      *observability.Metrics
	autoStartMin int
	stateTimer   clock.TimerID
	sweepTimer   clock.TimerID
	recording    sync.WaitGroup
	logger       *zap.Logger
}

// NewHandler creates a Handler over rooms.
//
// Precondition: rooms, sched and logger must be non-nil.
// Postcondition: the method registry is built; periodic tasks are not armed
// until Start.
func NewHandler(rules config.RulesConfig, rooms *room.Manager, sched *clock.Scheduler, logger *zap.Logger, opts ...Option) *Handler {
	if rooms == nil || sched == nil || logger == nil {
		panic("gameserver.NewHandler: rooms, sched and logger must not be nil")
	}
	d := config.DefaultRules()
	if rules.GameVersion == "" {
		rules.GameVersion = d.GameVersion
	}
	if rules.MaxHealth <= 0 {
		rules.MaxHealth = d.MaxHealth
	}
	if rules.RespawnDelay <= 0 {
		rules.RespawnDelay = d.RespawnDelay
	}
	if rules.StateBroadcastInterval <= 0 {
		rules.StateBroadcastInterval = d.StateBroadcastInterval
	}
	if rules.InactivitySweepInterval <= 0 {
		rules.InactivitySweepInterval = d.InactivitySweepInterval
	}
	if rules.InactivityTimeout <= 0 {
		rules.InactivityTimeout = d.InactivityTimeout
	}
	if rules.RateBurst <= 0 {
		rules.RateBurst = d.RateBurst
	}
	h := &Handler{
		rules:    rules,
		rooms:    rooms,
		sched:    sched,
		proxies:  make(map[string]rpc.Proxy),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.methods = h.registry()
	return h
}

// registry maps wire method names to their decoders and implementations.
func (h *Handler) registry() map[string]method {
	return map[string]method{
		rpc.MethodJoinGame: {
			invoke: func(ctx context.Context, sender string, args []any) (any, error) {
				name, err := rpc.OptString(args, 0, "")
				if err != nil {
					return nil, err
				}
				version, err := rpc.ArgString(args, 1)
				if err != nil {
					return nil, err
				}
				mode, err := rpc.OptString(args, 2, "")
				if err != nil {
					return nil, err
				}
				return h.JoinGame(ctx, sender, name, version, mode), nil
			},
		},
		rpc.MethodUpdatePlayerPosition: {
			requiresPlayer: true,
			invoke: func(ctx context.Context, sender string, args []any) (any, error) {
				var upd rpc.PositionUpdate
				if err := rpc.DecodeArg(args, 0, &upd); err != nil {
					return nil, err
				}
				h.UpdatePlayerPosition(ctx, sender, upd)
				return nil, nil
			},
		},
		rpc.MethodPlayerShoot: {
			requiresPlayer: true,
			invoke: func(ctx context.Context, sender string, args []any) (any, error) {
				var shot rpc.ShootData
				if err := rpc.DecodeArg(args, 0, &shot); err != nil {
					return nil, err
				}
				h.PlayerShoot(ctx, sender, shot)
				return nil, nil
			},
		},
		rpc.MethodSendChatMessage: {
			requiresPlayer: true,
			invoke: func(ctx context.Context, sender string, args []any) (any, error) {
				var msg rpc.ChatMessage
				if err := rpc.DecodeArg(args, 0, &msg); err != nil {
					return nil, err
				}
				h.SendChatMessage(ctx, sender, msg)
				return nil, nil
			},
		},
		rpc.MethodPlayerHit: {
			requiresPlayer: true,
			absent:         rpc.HitResult{Killed: false, NewHealth: h.rules.MaxHealth},
			invoke: func(ctx context.Context, sender string, args []any) (any, error) {
				var hit rpc.HitData
				if err := rpc.DecodeArg(args, 0, &hit); err != nil {
					return nil, err
				}
				return h.PlayerHit(ctx, sender, hit), nil
			},
		},
		rpc.MethodSetPlayerReady: {
			requiresPlayer: true,
			invoke: func(ctx context.Context, sender string, args []any) (any, error) {
				ready, err := rpc.ArgBool(args, 0)
				if err != nil {
					return nil, err
				}
				h.SetPlayerReady(ctx, sender, ready)
				return nil, nil
			},
		},
		rpc.MethodLeaveGame: {
			requiresPlayer: true,
			invoke: func(ctx context.Context, sender string, _ []any) (any, error) {
				h.LeaveGame(ctx, sender)
				return nil, nil
			},
		},
		rpc.MethodSendGameMessage: {
			requiresPlayer: true,
			absent:         false,
			invoke: func(ctx context.Context, sender string, args []any) (any, error) {
				var msg room.GameMessage
				if err := rpc.DecodeArg(args, 0, &msg); err != nil {
					return nil, err
				}
				return h.SendGameMessage(ctx, sender, msg), nil
			},
		},
		rpc.MethodGetGameStats: {
			invoke: func(_ context.Context, sender string, _ []any) (any, error) {
				return h.GameStats(sender), nil
			},
		},
	}
}

// HandleRpcCall dispatches req to its registered method. Unknown methods,
// undecodable arguments, rate-limited calls and panics inside a method all
// become error responses; nothing propagates to the caller.
//
// Postcondition: always returns a Response.
func (h *Handler) HandleRpcCall(ctx context.Context, req rpc.Request) (resp rpc.Response) {
	h.metrics.Inc(observability.RPCCalls)
	m, ok := h.methods[req.Method]
	if !ok {
		h.metrics.Inc(observability.RPCFailures)
		h.logger.Warn("unknown rpc method",
			zap.String("client_id", req.SenderID),
			zap.String("method", req.Method),
		)
		return rpc.Fail(fmt.Errorf("%s: %w", req.Method, rpc.ErrUnknownMethod))
	}
	if lim, ok := h.limiters[req.SenderID]; ok && !lim.AllowN(h.sched.Now(), 1) {
		h.metrics.Inc(observability.RateLimited)
		return rpc.Fail(fmt.Errorf("%s: rate limited", req.Method))
	}
	if m.requiresPlayer && !h.hasPlayer(req.SenderID) {
		h.metrics.Inc(observability.IgnoredCalls)
		h.logger.Debug("dropping call from non-player",
			zap.String("client_id", req.SenderID),
			zap.String("method", req.Method),
		)
		return rpc.OK(m.absent)
	}

	defer func() {
		if r := recover(); r != nil {
			h.metrics.Inc(observability.RPCFailures)
			h.logger.Error("rpc method panicked",
				zap.String("client_id", req.SenderID),
				zap.String("method", req.Method),
				zap.Any("panic", r),
			)
			resp = rpc.Fail(fmt.Errorf("%s: internal error: %v", req.Method, r))
		}
	}()

	result, err := m.invoke(ctx, req.SenderID, req.Args)
	if err != nil {
		h.metrics.Inc(observability.RPCFailures)
		h.logger.Debug("rpc call failed",
			zap.String("client_id", req.SenderID),
			zap.String("method", req.Method),
			zap.Error(err),
		)
		return rpc.Fail(err)
	}
	return rpc.OK(result)
}

// AddClientProxy registers the callback proxy for a connected client.
// A second call for the same id replaces the proxy.
func (h *Handler) AddClientProxy(clientID string, proxy rpc.Proxy) {
	h.proxies[clientID] = proxy
	if h.rules.RateLimit > 0 {
		h.limiters[clientID] = rate.NewLimiter(rate.Limit(h.rules.RateLimit), h.rules.RateBurst)
	}
	h.logger.Debug("client proxy added", zap.String("client_id", clientID))
}

// RemoveClientProxy forgets a disconnected client and runs the same cleanup
// as an explicit leave.
func (h *Handler) RemoveClientProxy(ctx context.Context, clientID string) {
	delete(h.proxies, clientID)
	delete(h.limiters, clientID)
	h.leave(ctx, clientID, "disconnect")
}

// ClientCount returns the number of registered proxies.
func (h *Handler) ClientCount() int { return len(h.proxies) }

// Start arms the periodic state broadcast, the inactivity sweep and the room
// manager's cleanup. Calling Start twice is a no-op.
func (h *Handler) Start() {
	if h.stateTimer != 0 {
		return
	}
	h.stateTimer = h.sched.Every(h.rules.StateBroadcastInterval, func() {
		h.broadcastGameState(context.Background())
	})
	h.sweepTimer = h.sched.Every(h.rules.InactivitySweepInterval, func() {
		h.sweepInactive(context.Background())
	})
	h.rooms.Start()
	h.logger.Info("handler started",
		zap.Duration("state_interval", h.rules.StateBroadcastInterval),
		zap.Duration("sweep_interval", h.rules.InactivitySweepInterval),
	)
}

// Stop cancels the periodic tasks and waits for in-flight result writes.
func (h *Handler) Stop() {
	if h.stateTimer != 0 {
		h.sched.Cancel(h.stateTimer)
		h.sched.Cancel(h.sweepTimer)
		h.stateTimer, h.sweepTimer = 0, 0
	}
	h.recording.Wait()
}

// hasPlayer reports whether clientID has a player record in some room.
func (h *Handler) hasPlayer(clientID string) bool {
	return h.rooms.FindRoomByPlayer(clientID) != nil
}
