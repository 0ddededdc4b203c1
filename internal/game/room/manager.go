package room

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/game/clock"
)

// Defaults configures rooms the Manager creates on its own and the cleanup
// sweep.
type Defaults struct {
	MaxPlayers       int
	GameMode         string
	StartCountdown   time.Duration
	CleanupInterval  time.Duration
	EmptyGracePeriod time.Duration
}

// DefaultDefaults returns the stock manager settings.
func DefaultDefaults() Defaults {
	return Defaults{
		MaxPlayers:       4,
		GameMode:         DefaultGameMode,
		StartCountdown:   DefaultStartCountdown,
		CleanupInterval:  30 * time.Second,
		EmptyGracePeriod: 5 * time.Minute,
	}
}

// Stats aggregates every room the Manager owns.
type Stats struct {
	TotalRooms            int           `json:"totalRooms"`
	TotalPlayers          int           `json:"totalPlayers"`
	RoomsByState          map[State]int `json:"roomsByState"`
	AveragePlayersPerRoom float64       `json:"averagePlayersPerRoom"`
	EmptyRooms            int           `json:"emptyRooms"`
	FullRooms             int           `json:"fullRooms"`
}

// DetailedStatus is Stats plus every room's Status.
type DetailedStatus struct {
	Stats
	Rooms           []Status `json:"rooms"`
	CleanupInterval int64    `json:"cleanupInterval"`
	Uptime          int64    `json:"uptime"`
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithOnRoomClosed registers fn to run after a room is removed by
// RemoveRoom, Cleanup or Destroy.
func WithOnRoomClosed(fn func(*Room)) ManagerOption {
	return func(m *Manager) { m.onClosed = fn }
}

// Manager owns every room, matches players into rooms and reaps rooms
// that ended or sat empty past the grace period.
type Manager struct {
	rooms     map[string]*Room
	order     []string
	defaults  Defaults
	sched     *clock.Scheduler
	cleanup   clock.TimerID
	startedAt time.Time
	onClosed  func(*Room)
	logger    *zap.Logger
}

// NewManager creates an empty Manager.
func NewManager(sched *clock.Scheduler, defaults Defaults, logger *zap.Logger, opts ...ManagerOption) *Manager {
	d := DefaultDefaults()
	if defaults.MaxPlayers > 0 {
		d.MaxPlayers = defaults.MaxPlayers
	}
	if defaults.GameMode != "" {
		d.GameMode = defaults.GameMode
	}
	if defaults.StartCountdown > 0 {
		d.StartCountdown = defaults.StartCountdown
	}
	if defaults.CleanupInterval > 0 {
		d.CleanupInterval = defaults.CleanupInterval
	}
	if defaults.EmptyGracePeriod > 0 {
		d.EmptyGracePeriod = defaults.EmptyGracePeriod
	}
	m := &Manager{
		rooms:     make(map[string]*Room),
		defaults:  d,
		sched:     sched,
		startedAt: sched.Now(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Defaults returns the effective defaults.
func (m *Manager) Defaults() Defaults { return m.defaults }

// CreateRoom creates and registers a room.
//
// Precondition: cfg.ID must not name an existing room.
func (m *Manager) CreateRoom(cfg Config) (*Room, error) {
	if _, ok := m.rooms[cfg.ID]; ok {
		return nil, fmt.Errorf("creating room %s: %w", cfg.ID, ErrRoomExists)
	}
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = m.defaults.MaxPlayers
	}
	if cfg.GameMode == "" {
		cfg.GameMode = m.defaults.GameMode
	}
	if cfg.StartCountdown <= 0 {
		cfg.StartCountdown = m.defaults.StartCountdown
	}
	r, err := New(cfg, m.sched, m.logger)
	if err != nil {
		return nil, fmt.Errorf("creating room: %w", err)
	}
	m.rooms[cfg.ID] = r
	m.order = append(m.order, cfg.ID)
	m.logger.Info("room created",
		zap.String("room_id", r.ID()),
		zap.String("name", r.Name()),
		zap.Int("max_players", r.MaxPlayers()),
		zap.String("game_mode", r.GameMode()),
	)
	return r, nil
}

// RemoveRoom destroys and unregisters a room. It reports whether the room
// existed.
func (m *Manager) RemoveRoom(id string) bool {
	r, ok := m.rooms[id]
	if !ok {
		return false
	}
	r.Destroy()
	delete(m.rooms, id)
	for i, rid := range m.order {
		if rid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.logger.Info("room removed", zap.String("room_id", id))
	if m.onClosed != nil {
		m.onClosed(r)
	}
	return true
}

// Room returns a room by id, or nil.
func (m *Manager) Room(id string) *Room { return m.rooms[id] }

// Rooms returns every room in creation order.
func (m *Manager) Rooms() []*Room {
	out := make([]*Room, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rooms[id])
	}
	return out
}

// RoomCount returns the number of rooms.
func (m *Manager) RoomCount() int { return len(m.rooms) }

// PlayerCount returns the number of players across all rooms.
func (m *Manager) PlayerCount() int {
	n := 0
	for _, r := range m.rooms {
		n += r.PlayerCount()
	}
	return n
}

// FindRoomForPlayer returns the first public, joinable, non-full room whose
// player count lies in [minPlayers, maxPlayers], or nil. maxPlayers <= 0
// means no upper bound.
func (m *Manager) FindRoomForPlayer(minPlayers, maxPlayers int) *Room {
	for _, r := range m.Rooms() {
		if r.IsPrivate() || !r.Joinable() || r.IsFull() {
			continue
		}
		n := r.PlayerCount()
		if n < minPlayers || (maxPlayers > 0 && n > maxPlayers) {
			continue
		}
		return r
	}
	return nil
}

// FindRoomByPlayer returns the room holding playerID, or nil.
func (m *Manager) FindRoomByPlayer(playerID string) *Room {
	for _, r := range m.Rooms() {
		if _, ok := r.Player(playerID); ok {
			return r
		}
	}
	return nil
}

// FindRoomsByGameMode returns every room running mode.
func (m *Manager) FindRoomsByGameMode(mode string) []*Room {
	var out []*Room
	for _, r := range m.Rooms() {
		if r.GameMode() == mode {
			out = append(out, r)
		}
	}
	return out
}

// AssignRoomForPlayer joins the player into the fullest public WAITING room
// that has space, optionally restricted to mode. It returns nil when no room
// admits the player or the player is already in a room.
func (m *Manager) AssignRoomForPlayer(playerID, name, mode string) *Room {
	if m.FindRoomByPlayer(playerID) != nil {
		return nil
	}
	var candidates []*Room
	for _, r := range m.Rooms() {
		if mode != "" && r.GameMode() != mode {
			continue
		}
		if r.IsPrivate() || r.State() != StateWaiting || r.IsFull() {
			continue
		}
		candidates = append(candidates, r)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PlayerCount() > candidates[j].PlayerCount()
	})
	for _, r := range candidates {
		if r.AddPlayer(playerID, name) {
			return r
		}
	}
	return nil
}

// CreateAndAssignRoom creates a fresh room from the defaults and joins the
// player into it. It returns nil if the join fails, in which case the new
// room is removed again.
func (m *Manager) CreateAndAssignRoom(playerID, name, mode string) *Room {
	if mode == "" {
		mode = m.defaults.GameMode
	}
	now := m.sched.Now()
	cfg := Config{
		ID:         fmt.Sprintf("room_%d_%s", now.UnixMilli(), uuid.NewString()[:8]),
		Name:       fmt.Sprintf("Room_%d", len(m.rooms)+1),
		MaxPlayers: m.defaults.MaxPlayers,
		GameMode:   mode,
	}
	r, err := m.CreateRoom(cfg)
	if err != nil {
		m.logger.Error("creating room for player", zap.String("client_id", playerID), zap.Error(err))
		return nil
	}
	if err := r.Join(playerID, name); err != nil {
		m.logger.Warn("joining fresh room", zap.String("client_id", playerID), zap.Error(err))
		m.RemoveRoom(r.ID())
		return nil
	}
	return r
}

// RoutePlayerMessage delivers msg to the room holding playerID. It reports
// false when the player is in no room or the room rejects the message.
func (m *Manager) RoutePlayerMessage(playerID string, msg GameMessage) bool {
	r := m.FindRoomByPlayer(playerID)
	if r == nil {
		m.logger.Warn("message from player in no room", zap.String("client_id", playerID))
		return false
	}
	return r.HandleGameMessage(playerID, msg)
}

// Cleanup removes ENDED rooms and rooms empty for longer than the grace
// period. It returns the number removed.
func (m *Manager) Cleanup() int {
	now := m.sched.Now()
	var doomed []string
	for _, r := range m.Rooms() {
		if r.State() == StateEnded {
			doomed = append(doomed, r.ID())
			continue
		}
		if r.IsEmpty() && now.Sub(r.EmptySince()) > m.defaults.EmptyGracePeriod {
			doomed = append(doomed, r.ID())
		}
	}
	for _, id := range doomed {
		m.RemoveRoom(id)
	}
	if len(doomed) > 0 {
		m.logger.Info("rooms cleaned up", zap.Int("removed", len(doomed)), zap.Int("remaining", len(m.rooms)))
	}
	return len(doomed)
}

// Start arms the periodic cleanup sweep. Calling Start twice is a no-op.
func (m *Manager) Start() {
	if m.cleanup != 0 {
		return
	}
	m.cleanup = m.sched.Every(m.defaults.CleanupInterval, func() { m.Cleanup() })
}

// Update advances every room by dt.
func (m *Manager) Update(dt time.Duration) {
	for _, r := range m.Rooms() {
		r.Update(dt)
	}
}

// Stats aggregates the rooms.
func (m *Manager) Stats() Stats {
	s := Stats{RoomsByState: map[State]int{
		StateWaiting:  0,
		StateStarting: 0,
		StatePlaying:  0,
		StateEnded:    0,
	}}
	for _, r := range m.rooms {
		s.TotalRooms++
		s.TotalPlayers += r.PlayerCount()
		s.RoomsByState[r.State()]++
		if r.IsEmpty() {
			s.EmptyRooms++
		}
		if r.IsFull() {
			s.FullRooms++
		}
	}
	if s.TotalRooms > 0 {
		avg := float64(s.TotalPlayers) / float64(s.TotalRooms)
		s.AveragePlayersPerRoom = math.Round(avg*100) / 100
	}
	return s
}

// DetailedStatus returns Stats plus every room's Status.
func (m *Manager) DetailedStatus() DetailedStatus {
	rooms := m.Rooms()
	statuses := make([]Status, 0, len(rooms))
	for _, r := range rooms {
		statuses = append(statuses, r.Status())
	}
	return DetailedStatus{
		Stats:           m.Stats(),
		Rooms:           statuses,
		CleanupInterval: m.defaults.CleanupInterval.Milliseconds(),
		Uptime:          m.sched.Now().Sub(m.startedAt).Milliseconds(),
	}
}

// Destroy cancels the cleanup sweep and removes every room.
func (m *Manager) Destroy() {
	if m.cleanup != 0 {
		m.sched.Cancel(m.cleanup)
		m.cleanup = 0
	}
	for _, id := range append([]string(nil), m.order...) {
		m.RemoveRoom(id)
	}
	m.logger.Info("room manager destroyed")
}
