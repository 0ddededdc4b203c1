package gameserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/room"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
)

// HashPassword returns a bcrypt hash of password for admin.password_hash.
//
// Precondition: password must be non-empty.
// Postcondition: Returns a bcrypt hash string or a non-nil error.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
//
// Postcondition: Returns true if password matches the hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// AdminStats is the body of GET /admin/stats.
type AdminStats struct {
	Clients int              `json:"clients"`
	Rooms   room.Stats       `json:"rooms"`
	Metrics map[string]int64 `json:"metrics"`
}

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

// ResultReader serves recorded match results.
type ResultReader interface {
	TopPlayers(ctx context.Context, limit int) ([]postgres.PlayerTotals, error)
	ResultsForRoom(ctx context.Context, roomID string) ([]postgres.PlayerResult, error)
}

// AdminOption configures an Admin.
type AdminOption func(*Admin)

// WithResults serves the leaderboard and per-room results from r.
func WithResults(r ResultReader) AdminOption {
	return func(a *Admin) { a.results = r }
}

// Admin serves the operator HTTP endpoints. Every read and mutation of game
// state runs on the Loop; result queries go straight to the ResultReader.
type Admin struct {
	cfg     config.AdminConfig
	loop    *Loop
	handler *Handler
	rooms   *room.Manager
	metrics *observability.Metrics
	results ResultReader
	server  *http.Server
	logger  *zap.Logger
}

// NewAdmin creates the admin endpoint.
//
// Precondition: loop, handler, rooms and logger must be non-nil.
func NewAdmin(cfg config.AdminConfig, loop *Loop, handler *Handler, rooms *room.Manager, metrics *observability.Metrics, logger *zap.Logger, opts ...AdminOption) *Admin {
	a := &Admin{
		cfg:     cfg,
		loop:    loop,
		handler: handler,
		rooms:   rooms,
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a
}

// Handler returns the routed, authenticated admin handler.
func (a *Admin) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/stats", a.handleStats)
	mux.HandleFunc("GET /admin/rooms", a.handleRooms)
	mux.HandleFunc("DELETE /admin/rooms/{id}", a.handleDeleteRoom)
	mux.HandleFunc("GET /admin/rooms/{id}/results", a.handleRoomResults)
	mux.HandleFunc("GET /admin/leaderboard", a.handleLeaderboard)
	return a.requireAuth(mux)
}

func (a *Admin) requireAuth(next http.Handler) http.Handler {
	if a.cfg.PasswordHash == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(a.cfg.Username)) != 1 ||
			!CheckPassword(pass, a.cfg.PasswordHash) {
			w.Header().Set("WWW-Authenticate", `Basic realm="arena-admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Admin) handleStats(w http.ResponseWriter, r *http.Request) {
	var out AdminStats
	err := a.loop.Do(r.Context(), func() {
		out = AdminStats{
			Clients: a.handler.ClientCount(),
			Rooms:   a.rooms.Stats(),
			Metrics: a.metrics.Snapshot(),
		}
	})
	a.reply(w, out, err)
}

func (a *Admin) handleRooms(w http.ResponseWriter, r *http.Request) {
	var out room.DetailedStatus
	err := a.loop.Do(r.Context(), func() { out = a.rooms.DetailedStatus() })
	a.reply(w, out, err)
}

func (a *Admin) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var removed bool
	err := a.loop.Do(r.Context(), func() {
		removed = a.handler.CloseRoom(context.WithoutCancel(r.Context()), id)
	})
	if err != nil {
		a.reply(w, nil, err)
		return
	}
	if !removed {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	a.logger.Info("room closed by admin", zap.String("room_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if a.results == nil {
		http.Error(w, "match results are not recorded", http.StatusNotFound)
		return
	}
	limit := defaultLeaderboardSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLeaderboardSize {
			http.Error(w, fmt.Sprintf("limit must be 1-%d", maxLeaderboardSize), http.StatusBadRequest)
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), DefaultRecordTimeout)
	defer cancel()
	top, err := a.results.TopPlayers(ctx, limit)
	a.reply(w, top, err)
}

func (a *Admin) handleRoomResults(w http.ResponseWriter, r *http.Request) {
	if a.results == nil {
		http.Error(w, "match results are not recorded", http.StatusNotFound)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), DefaultRecordTimeout)
	defer cancel()
	res, err := a.results.ResultsForRoom(ctx, r.PathValue("id"))
	if errors.Is(err, postgres.ErrNoResults) {
		http.Error(w, "no results for room", http.StatusNotFound)
		return
	}
	a.reply(w, res, err)
}

func (a *Admin) reply(w http.ResponseWriter, body any, err error) {
	if err != nil {
		a.logger.Warn("admin request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Debug("writing admin response", zap.Error(err))
	}
}

// Start listens on the configured address and serves until Stop.
func (a *Admin) Start() error {
	lis, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return err
	}
	return a.Serve(lis)
}

// Serve serves on lis until Stop. A clean shutdown returns nil.
func (a *Admin) Serve(lis net.Listener) error {
	a.logger.Info("admin endpoint listening", zap.String("addr", lis.Addr().String()))
	if err := a.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down, waiting up to five seconds for open requests.
func (a *Admin) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("admin shutdown", zap.Error(err))
	}
}
