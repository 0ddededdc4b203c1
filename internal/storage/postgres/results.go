package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoResults is returned when a room has no recorded results.
var ErrNoResults = errors.New("no results")

// PlayerResult is one player's final tally for a stay in a room.
type PlayerResult struct {
	ID         int64     `json:"id"`
	RoomID     string    `json:"roomId"`
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	GameMode   string    `json:"gameMode"`
	Kills      int       `json:"kills"`
	Deaths     int       `json:"deaths"`
	Score      int       `json:"score"`
	JoinedAt   time.Time `json:"joinedAt"`
	LeftAt     time.Time `json:"leftAt"`
}

// PlayerTotals aggregates a player's results across rooms.
type PlayerTotals struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Matches    int    `json:"matches"`
	Kills      int    `json:"kills"`
	Deaths     int    `json:"deaths"`
	Score      int    `json:"score"`
}

// ResultRepository persists match results.
type ResultRepository struct {
	db *pgxpool.Pool
}

// NewResultRepository creates a ResultRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewResultRepository(db *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{db: db}
}

// RecordResult inserts r and returns its generated ID.
//
// Precondition: r.RoomID and r.PlayerID must be non-empty.
// Postcondition: Returns the new row ID or a non-nil error.
func (r *ResultRepository) RecordResult(ctx context.Context, res PlayerResult) (int64, error) {
	if res.RoomID == "" || res.PlayerID == "" {
		return 0, fmt.Errorf("recording result: room and player ids are required")
	}
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO match_results
			(room_id, player_id, player_name, game_mode, kills, deaths, score, joined_at, left_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`,
		res.RoomID, res.PlayerID, res.PlayerName, res.GameMode,
		res.Kills, res.Deaths, res.Score, res.JoinedAt, res.LeftAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting result: %w", err)
	}
	return id, nil
}

// ResultsForRoom returns every result recorded for roomID, highest score first.
//
// Postcondition: Returns ErrNoResults when the room has none.
func (r *ResultRepository) ResultsForRoom(ctx context.Context, roomID string) ([]PlayerResult, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, room_id, player_id, player_name, game_mode, kills, deaths, score, joined_at, left_at
		FROM match_results WHERE room_id = $1
		ORDER BY score DESC, id ASC`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PlayerResult, error) {
		var p PlayerResult
		err := row.Scan(&p.ID, &p.RoomID, &p.PlayerID, &p.PlayerName, &p.GameMode,
			&p.Kills, &p.Deaths, &p.Score, &p.JoinedAt, &p.LeftAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning results: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNoResults
	}
	return out, nil
}

// TopPlayers returns up to limit players ordered by total score.
//
// Precondition: limit > 0.
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *ResultRepository) TopPlayers(ctx context.Context, limit int) ([]PlayerTotals, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("top players: limit must be positive, got %d", limit)
	}
	rows, err := r.db.Query(ctx, `
		SELECT player_id, MAX(player_name), COUNT(*), SUM(kills), SUM(deaths), SUM(score)
		FROM match_results
		GROUP BY player_id
		ORDER BY SUM(score) DESC, player_id ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying top players: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PlayerTotals, error) {
		var p PlayerTotals
		err := row.Scan(&p.PlayerID, &p.PlayerName, &p.Matches, &p.Kills, &p.Deaths, &p.Score)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning top players: %w", err)
	}
	return out, nil
}
