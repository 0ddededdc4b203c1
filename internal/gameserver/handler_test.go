package gameserver_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/clock"
	"github.com/cory-johannsen/arena/internal/game/netsync"
	"github.com/cory-johannsen/arena/internal/game/room"
	"github.com/cory-johannsen/arena/internal/gameserver"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/rpc"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type pushed struct {
	method string
	args   []any
}

// recordingProxy captures every push it receives. fail makes subsequent
// calls return an error after recording them.
type recordingProxy struct {
	mu    sync.Mutex
	calls []pushed
	err   error
}

func (p *recordingProxy) Call(_ context.Context, method string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushed{method: method, args: args})
	return p.err
}

func (p *recordingProxy) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *recordingProxy) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

func (p *recordingProxy) named(method string) []pushed {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pushed
	for _, c := range p.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (p *recordingProxy) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type harness struct {
	clk     *clock.ManualClock
	sched   *clock.Scheduler
	rooms   *room.Manager
	handler *gameserver.Handler
	metrics *observability.Metrics
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T, rules config.RulesConfig, maxPlayers int, opts ...gameserver.Option) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	clk := clock.NewManualClock(epoch)
	sched := clock.NewScheduler(clk)
	rooms := room.NewManager(sched, room.Defaults{MaxPlayers: maxPlayers}, logger)
	metrics := observability.NewMetrics()
	opts = append([]gameserver.Option{gameserver.WithMetrics(metrics)}, opts...)
	return &harness{
		clk:     clk,
		sched:   sched,
		rooms:   rooms,
		handler: gameserver.NewHandler(rules, rooms, sched, logger, opts...),
		metrics: metrics,
		logs:    logs,
	}
}

func (hs *harness) connect(id string) *recordingProxy {
	p := &recordingProxy{}
	hs.handler.AddClientProxy(id, p)
	return p
}

func (hs *harness) call(id, method string, args ...any) rpc.Response {
	return hs.handler.HandleRpcCall(context.Background(), rpc.Request{Method: method, Args: args, SenderID: id})
}

func (hs *harness) join(t *testing.T, id string) rpc.JoinResult {
	t.Helper()
	resp := hs.call(id, rpc.MethodJoinGame, "name-"+id, "1.0.0")
	require.True(t, resp.Success, resp.Error)
	res, ok := resp.Result.(rpc.JoinResult)
	require.True(t, ok)
	require.True(t, res.Success)
	return res
}

func (hs *harness) player(t *testing.T, id string) *netsync.NetworkPlayer {
	t.Helper()
	r := hs.rooms.FindRoomByPlayer(id)
	require.NotNil(t, r, "player %s in no room", id)
	np := r.NetworkPlayer(id)
	require.NotNil(t, np)
	return np
}

func TestNewHandler_PanicsOnNilArguments(t *testing.T) {
	assert.Panics(t, func() {
		gameserver.NewHandler(config.DefaultRules(), nil, nil, zap.NewNop())
	})
}

func TestHandler_TwoPlayerRoomLifecycle(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 2)
	a := hs.connect("A")
	b := hs.connect("B")

	resA := hs.join(t, "A")
	assert.True(t, resA.IsHost)
	resB := hs.join(t, "B")
	assert.False(t, resB.IsHost)
	assert.Equal(t, resA.RoomID, resB.RoomID)

	joined := a.named(rpc.OnPlayerJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "B", joined[0].args[0].(rpc.PlayerData).ClientID)

	require.Len(t, b.named(rpc.OnGameStateUpdate), 1)
	backfill := b.named(rpc.OnPlayerJoined)
	require.Len(t, backfill, 1)
	assert.Equal(t, "A", backfill[0].args[0].(rpc.PlayerData).ClientID)

	a.reset()
	b.reset()
	upd := rpc.PositionUpdate{Position: netsync.Vec3{X: 1, Y: 2, Z: 3}, Rotation: netsync.Vec3{Z: 0.5}, Sequence: 7}
	resp := hs.call("A", rpc.MethodUpdatePlayerPosition, upd)
	require.True(t, resp.Success)

	moves := b.named(rpc.OnPlayerPositionUpdate)
	require.Len(t, moves, 1)
	assert.Equal(t, "A", moves[0].args[0])
	assert.Empty(t, a.named(rpc.OnPlayerPositionUpdate))

	np := hs.player(t, "A")
	assert.Equal(t, netsync.Vec3{X: 1, Y: 2, Z: 3}, np.NetworkPosition)
	assert.InDelta(t, 0.5, np.NetworkRotation, 1e-9)
	assert.Equal(t, uint32(7), np.LastInputSequence)

	hs.handler.RemoveClientProxy(context.Background(), "A")

	left := b.named(rpc.OnPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "A", left[0].args[0])
	r := hs.rooms.Room(resB.RoomID)
	require.NotNil(t, r)
	assert.Equal(t, "B", r.HostID())
	assert.Equal(t, 1, hs.handler.ClientCount())
	assert.Equal(t, int64(2), hs.metrics.Get(observability.PlayersJoined))
	assert.Equal(t, int64(1), hs.metrics.Get(observability.PlayersLeft))
}

func TestHandler_JoinRejectsVersionMismatch(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 4)
	hs.connect("A")
	resp := hs.call("A", rpc.MethodJoinGame, "Alice", "0.9.0")
	require.True(t, resp.Success)
	assert.Equal(t, rpc.JoinResult{}, resp.Result)
	assert.Nil(t, hs.rooms.FindRoomByPlayer("A"))
	assert.Equal(t, 1, hs.logs.FilterMessage("join rejected: version mismatch").Len())
}

func TestHandler_RejoinReturnsExistingRecord(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 4)
	a := hs.connect("A")
	b := hs.connect("B")
	first := hs.join(t, "A")
	hs.join(t, "B")
	a.reset()

	again := hs.join(t, "B")
	assert.Equal(t, first.RoomID, again.RoomID)
	assert.False(t, again.IsHost)
	assert.Zero(t, a.total())
	assert.Len(t, b.named(rpc.OnGameStateUpdate), 1)
	assert.Equal(t, 2, hs.rooms.PlayerCount())
}

func TestHandler_JoinWithoutNameUsesDefault(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 4)
	hs.connect("client-1234")
	resp := hs.call("client-1234", rpc.MethodJoinGame, nil, "1.0.0")
	require.True(t, resp.Success)
	assert.Equal(t, "Player_1234", hs.player(t, "client-1234").PlayerName)
}

func TestHandler_RequiresPlayerGate(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 4)
	p := hs.connect("ghost")

	for _, method := range []string{
		rpc.MethodUpdatePlayerPosition,
		rpc.MethodPlayerShoot,
		rpc.MethodSendChatMessage,
		rpc.MethodSetPlayerReady,
		rpc.MethodLeaveGame,
	} {
		resp := hs.call("ghost", method, "not even decoded")
		assert.True(t, resp.Success, method)
		assert.Nil(t, resp.Result, method)
	}

	hit := hs.call("ghost", rpc.MethodPlayerHit, rpc.HitData{TargetID: "x", Damage: 10})
	assert.Equal(t, rpc.HitResult{Killed: false, NewHealth: 100}, hit.Result)

	msg := hs.call("ghost", rpc.MethodSendGameMessage, room.GameMessage{Type: room.MessagePlayerInput})
	assert.Equal(t, false, msg.Result)
	assert.Zero(t, p.total())

	dropped := hs.logs.FilterMessage("dropping call from non-player")
	assert.Equal(t, 7, dropped.Len())
	assert.Equal(t, int64(7), hs.metrics.Get(observability.IgnoredCalls))
	assert.Equal(t, zapcore.DebugLevel, dropped.All()[0].Level)
}

func TestHandler_UnknownMethodFails(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 4)
	resp := hs.call("A", "teleport")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown method")
	assert.Equal(t, int64(1), hs.metrics.Get(observability.RPCFailures))
}

func TestHandler_UndecodableArgumentsFail(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 4)
	hs.connect("A")
	hs.join(t, "A")

	resp := hs.call("A", rpc.MethodPlayerHit, "garbage")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, rpc.ErrBadArgs.Error())

	resp = hs.call("A", rpc.MethodSetPlayerReady, "yes")
	assert.False(t, resp.Success)

	resp = hs.call("B", rpc.MethodJoinGame, "Bob")
	assert.False(t, resp.Success)
}

func TestHandler_HitKillAndRespawn(t *testing.T) {
	rules := config.DefaultRules()
	hs := newHarness(t, rules, 4)
	a := hs.connect("A")
	b := hs.connect("B")
	hs.join(t, "A")
	hs.join(t, "B")
	a.reset()
	b.reset()

	resp := hs.call("A", rpc.MethodPlayerHit, rpc.HitData{TargetID: "B", Damage: 60, WeaponType: "rifle"})
	require.True(t, resp.Success)
	assert.Equal(t, rpc.HitResult{Killed: false, NewHealth: 40}, resp.Result)

	resp = hs.call("A", rpc.MethodPlayerHit, map[string]any{"targetId": "B", "damage": 55.0})
	require.True(t, resp.Success)
	assert.Equal(t, rpc.HitResult{Killed: true, NewHealth: 0}, resp.Result)

	target := hs.player(t, "B")
	attacker := hs.player(t, "A")
	assert.Equal(t, 1, target.Deaths)
	assert.Equal(t, 1, attacker.Kills)
	assert.Equal(t, rules.KillScore, attacker.Score)
	assert.Equal(t, int64(1), hs.metrics.Get(observability.Kills))

	assert.Len(t, a.named(rpc.OnPlayerHit), 2)
	assert.Len(t, b.named(rpc.OnPlayerHit), 2)

	hs.clk.Advance(rules.RespawnDelay - time.Millisecond)
	hs.sched.RunDue()
	assert.Equal(t, 0, target.Health)

	hs.clk.Advance(time.Millisecond)
	hs.sched.RunDue()
	assert.Equal(t, rules.MaxHealth, target.Health)
	assert.Equal(t, netsync.Origin, target.NetworkPosition)
}

func TestHandler_HitOnDeadPlayerIsNotASecondKill(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 4)
	hs.connect("A")
	hs.connect("B")
	hs.join(t, "A")
	hs.join(t, "B")

	first := hs.call("A", rpc.MethodPlayerHit, rpc.HitData{TargetID: "B", Damage: 100})
	second := hs.call("A", rpc.MethodPlayerHit, rpc.HitData{TargetID: "B", Damage: 100})
	assert.Equal(t, rpc.HitResult{Killed: true, NewHealth: 0}, first.Result)
	assert.Equal(t, rpc.HitResult{Killed: false, NewHealth: 0}, second.Result)
	assert.Equal(t, 1, hs.player(t, "A").Kills)
	assert.Equal(t, 1, hs.player(t, "B").Deaths)
	assert.Equal(t, int64(1), hs.metrics.Get(observability.Kills))
}

func TestHandler_NonFinitePositionIsRejected(t *testing.T) {
	rules := config.DefaultRules()
	hs := newHarness(t, rules, 4)
	hs.connect("A")
	b := hs.connect("B")
	hs.join(t, "A")
	hs.join(t, "B")
	hs.handler.Start()
	defer hs.handler.Stop()
	b.reset()

	codec := rpc.MsgpackCodec{}
	raw, err := codec.Marshal(rpc.CallEnvelope(1, rpc.MethodUpdatePlayerPosition,
		map[string]any{"position": map[string]any{"x": math.NaN(), "y": math.Inf(1)}}))
	require.NoError(t, err)
	var env rpc.Envelope
	require.NoError(t, codec.Unmarshal(raw, &env))

	resp := hs.call("A", env.Method, env.Args...)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, rpc.ErrBadArgs.Error())
	assert.Empty(t, b.named(rpc.OnPlayerPositionUpdate))
	assert.Equal(t, netsync.Origin, hs.player(t, "A").NetworkPosition)

	hs.clk.Advance(rules.StateBroadcastInterval)
	hs.sched.RunDue()

	states := b.named(rpc.OnGameStateUpdate)
	require.Len(t, states, 1)
	push := rpc.PushEnvelope(states[0].method, states[0].args...)
	_, err = rpc.JSONCodec{}.Marshal(push)
	assert.NoError(t, err)
	_, err = rpc.ToStruct(push)
	assert.NoError(t, err)
}

func TestHandler_HitOnPlayerInAnotherRoomMisses(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 1)
	hs.connect("A")
	hs.connect("B")
	ra := hs.join(t, "A")
	rb := hs.join(t, "B")
	require.NotEqual(t, ra.RoomID, rb.RoomID)

	resp := hs.call("A", rpc.MethodPlayerHit, rpc.HitData{TargetID: "B", Damage: 100})
	assert.Equal(t, rpc.HitResult{Killed: false, NewHealth: 100}, resp.Result)
	assert.Equal(t, 100, hs.player(t, "B").Health)
}

func TestHandler_BroadcastReachesEveryTargetDespiteFailure(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 3)
	proxies := map[string]*recordingProxy{}
	for _, id := range []string{"A", "B", "C"} {
		proxies[id] = hs.connect(id)
		hs.join(t, id)
	}
	for _, p := range proxies {
		p.reset()
	}
	proxies["B"].fail(errors.New("connection reset"))

	resp := hs.call("A", rpc.MethodSendChatMessage, rpc.ChatMessage{Message: "gg", PlayerName: "Alice"})
	require.True(t, resp.Success)

	for id, p := range proxies {
		chats := p.named(rpc.OnChatMessage)
		require.Len(t, chats, 1, id)
		assert.Equal(t, "A", chats[0].args[0])
		assert.Equal(t, "gg", chats[0].args[1].(rpc.ChatMessage).Message)
	}
	assert.Equal(t, int64(1), hs.metrics.Get(observability.DeliveryFailures))
	assert.Equal(t, 1, hs.logs.FilterMessage("push to client failed").Len())
}

type fakeScripts struct {
	award int
	panic bool
}

func (f *fakeScripts) OnKill(_, _, _ string, _ int) int { return f.award }

func (f *fakeScripts) OnChat(_, _, message string) (string, bool) {
	if f.panic {
		panic("filter exploded")
	}
	if message == "drop" {
		return "", false
	}
	return strings.ToUpper(message), true
}

func TestHandler_ScriptsFilterChatAndScoreKills(t *testing.T) {
	scripts := &fakeScripts{award: 7}
	hs := newHarness(t, config.DefaultRules(), 4, gameserver.WithScripts(scripts))
	a := hs.connect("A")
	b := hs.connect("B")
	hs.join(t, "A")
	hs.join(t, "B")

	hs.call("A", rpc.MethodSendChatMessage, rpc.ChatMessage{Message: "hello"})
	hs.call("A", rpc.MethodSendChatMessage, rpc.ChatMessage{Message: "drop"})

	chats := b.named(rpc.OnChatMessage)
	require.Len(t, chats, 1)
	assert.Equal(t, "HELLO", chats[0].args[1].(rpc.ChatMessage).Message)
	assert.Len(t, a.named(rpc.OnChatMessage), 1)

	hs.call("A", rpc.MethodPlayerHit, rpc.HitData{TargetID: "B", Damage: 100})
	assert.Equal(t, 7, hs.player(t, "A").Score)
}

func TestHandler_PanicInMethodBecomesFailure(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 4, gameserver.WithScripts(&fakeScripts{panic: true}))
	hs.connect("A")
	hs.join(t, "A")

	resp := hs.call("A", rpc.MethodSendChatMessage, rpc.ChatMessage{Message: "boom"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "internal error")
	assert.Equal(t, 1, hs.logs.FilterMessage("rpc method panicked").Len())

	again := hs.call("A", rpc.MethodGetGameStats)
	assert.True(t, again.Success)
}

func TestHandler_RateLimit(t *testing.T) {
	rules := config.DefaultRules()
	rules.RateLimit = 1
	rules.RateBurst = 2
	hs := newHarness(t, rules, 4)
	hs.connect("A")

	assert.True(t, hs.call("A", rpc.MethodGetGameStats).Success)
	assert.True(t, hs.call("A", rpc.MethodGetGameStats).Success)
	limited := hs.call("A", rpc.MethodGetGameStats)
	assert.False(t, limited.Success)
	assert.Contains(t, limited.Error, "rate limited")
	assert.Equal(t, int64(1), hs.metrics.Get(observability.RateLimited))

	hs.clk.Advance(time.Second)
	assert.True(t, hs.call("A", rpc.MethodGetGameStats).Success)
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []postgres.PlayerResult
	err     error
}

func (f *fakeRecorder) RecordResult(_ context.Context, res postgres.PlayerResult) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
	return int64(len(f.results)), f.err
}

func TestHandler_LeaveRecordsResult(t *testing.T) {
	rec := &fakeRecorder{}
	hs := newHarness(t, config.DefaultRules(), 4, gameserver.WithRecorder(rec))
	hs.connect("A")
	b := hs.connect("B")
	res := hs.join(t, "A")
	hs.join(t, "B")
	hs.call("A", rpc.MethodPlayerHit, rpc.HitData{TargetID: "B", Damage: 100})

	hs.clk.Advance(10 * time.Second)
	resp := hs.call("A", rpc.MethodLeaveGame)
	require.True(t, resp.Success)
	hs.handler.Stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.results, 1)
	got := rec.results[0]
	assert.Equal(t, res.RoomID, got.RoomID)
	assert.Equal(t, "A", got.PlayerID)
	assert.Equal(t, "name-A", got.PlayerName)
	assert.Equal(t, room.DefaultGameMode, got.GameMode)
	assert.Equal(t, 1, got.Kills)
	assert.Equal(t, 100, got.Score)
	assert.Equal(t, epoch, got.JoinedAt)
	assert.Equal(t, epoch.Add(10*time.Second), got.LeftAt)
	assert.Len(t, b.named(rpc.OnPlayerLeft), 1)
}

func TestHandler_RecorderFailureIsLogged(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("db down")}
	hs := newHarness(t, config.DefaultRules(), 4, gameserver.WithRecorder(rec))
	hs.connect("A")
	hs.join(t, "A")
	hs.call("A", rpc.MethodLeaveGame)
	hs.handler.Stop()
	assert.Equal(t, 1, hs.logs.FilterMessage("recording match result").Len())
}

func TestHandler_SweepRemovesInactivePlayers(t *testing.T) {
	rules := config.DefaultRules()
	hs := newHarness(t, rules, 4)
	hs.connect("A")
	b := hs.connect("B")
	hs.join(t, "A")
	hs.join(t, "B")
	hs.handler.Start()
	defer hs.handler.Stop()

	hs.clk.Advance(rules.InactivitySweepInterval)
	hs.call("B", rpc.MethodUpdatePlayerPosition, rpc.PositionUpdate{})
	hs.sched.RunDue()
	require.NotNil(t, hs.rooms.FindRoomByPlayer("A"))

	hs.clk.Advance(rules.InactivityTimeout - rules.InactivitySweepInterval + time.Second)
	hs.sched.RunDue()

	assert.Nil(t, hs.rooms.FindRoomByPlayer("A"))
	assert.NotNil(t, hs.rooms.FindRoomByPlayer("B"))
	left := b.named(rpc.OnPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "A", left[0].args[0])
	assert.Equal(t, 1, hs.logs.FilterMessage("inactive players removed").Len())
}

func TestHandler_PeriodicStateBroadcast(t *testing.T) {
	rules := config.DefaultRules()
	hs := newHarness(t, rules, 4)
	a := hs.connect("A")
	hs.join(t, "A")
	hs.handler.Start()
	defer hs.handler.Stop()
	a.reset()

	hs.clk.Advance(rules.StateBroadcastInterval)
	hs.sched.RunDue()

	states := a.named(rpc.OnGameStateUpdate)
	require.Len(t, states, 1)
	gs := states[0].args[0].(rpc.GameState)
	require.Len(t, gs.Players, 1)
	assert.Equal(t, "A", gs.HostPlayerID)
	assert.Equal(t, 1, gs.WaveNumber)
	assert.Equal(t, rules.StateBroadcastInterval.Milliseconds(), gs.GameTime)
	assert.NotNil(t, gs.Enemies)
}

func TestHandler_AutoStartWhenAllReady(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 4, gameserver.WithAutoStart(2))
	a := hs.connect("A")
	hs.connect("B")
	res := hs.join(t, "A")
	r := hs.rooms.Room(res.RoomID)

	hs.call("A", rpc.MethodSetPlayerReady, true)
	assert.Equal(t, room.StateWaiting, r.State())

	hs.join(t, "B")
	hs.call("B", rpc.MethodSetPlayerReady, true)
	assert.Equal(t, room.StateStarting, r.State())

	ready := a.named(rpc.OnPlayerReady)
	require.Len(t, ready, 1)
	assert.Equal(t, "B", ready[0].args[0])
	assert.Equal(t, true, ready[0].args[1])
}

func TestHandler_GameStats(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 4)
	hs.connect("A")

	lobby := hs.call("A", rpc.MethodGetGameStats)
	assert.Equal(t, rpc.GameStats{WaveNumber: 1}, lobby.Result)

	res := hs.join(t, "A")
	hs.clk.Advance(1500 * time.Millisecond)
	stats := hs.call("A", rpc.MethodGetGameStats).Result.(rpc.GameStats)
	assert.Equal(t, 1, stats.PlayerCount)
	assert.Equal(t, int64(1500), stats.GameTime)
	assert.Equal(t, "A", stats.HostPlayerID)
	assert.Equal(t, res.RoomID, stats.RoomID)
	assert.Equal(t, string(room.StateWaiting), stats.RoomState)
}

func TestHandler_SendGameMessageRoutesToRoom(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 4)
	hs.connect("A")
	hs.join(t, "A")

	resp := hs.call("A", rpc.MethodSendGameMessage, map[string]any{
		"gameMessageType": room.MessagePlayerInput,
		"payload":         map[string]any{"position": map[string]any{"x": 4.0}},
	})
	require.True(t, resp.Success)
	assert.Equal(t, true, resp.Result)
	assert.Equal(t, 4.0, hs.player(t, "A").NetworkPosition.X)

	resp = hs.call("A", rpc.MethodSendGameMessage, map[string]any{"gameMessageType": "dance"})
	require.True(t, resp.Success)
	assert.Equal(t, false, resp.Result)
}

func TestHandler_CloseRoom(t *testing.T) {
	hs := newHarness(t, config.DefaultRules(), 4)
	a := hs.connect("A")
	b := hs.connect("B")
	res := hs.join(t, "A")
	hs.join(t, "B")
	a.reset()

	assert.True(t, hs.handler.CloseRoom(context.Background(), res.RoomID))
	assert.Nil(t, hs.rooms.Room(res.RoomID))
	assert.Nil(t, hs.rooms.FindRoomByPlayer("B"))
	assert.Empty(t, a.named(rpc.OnPlayerLeft))
	left := b.named(rpc.OnPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "A", left[0].args[0])
	assert.False(t, hs.handler.CloseRoom(context.Background(), res.RoomID))
}

func TestProperty_HealthStaysInBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		hs := newHarness(t, config.DefaultRules(), 2)
		hs.connect("A")
		hs.connect("B")
		hs.join(t, "A")
		hs.join(t, "B")

		hits := rapid.SliceOfN(rapid.IntRange(-50, 150), 1, 10).Draw(rt, "hits")
		for _, d := range hits {
			resp := hs.call("A", rpc.MethodPlayerHit, rpc.HitData{TargetID: "B", Damage: d})
			res := resp.Result.(rpc.HitResult)
			if res.NewHealth < 0 || res.NewHealth > 100 {
				rt.Fatalf("health %d out of bounds after damage %d", res.NewHealth, d)
			}
		}
		deaths := hs.player(t, "B").Deaths
		kills := hs.player(t, "A").Kills
		if deaths != kills {
			rt.Fatalf("deaths %d != kills %d", deaths, kills)
		}
		if deaths > 1 {
			rt.Fatalf("target died %d times without respawning", deaths)
		}
	})
}
