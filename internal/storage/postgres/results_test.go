package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/arena/internal/storage/postgres"
	"github.com/cory-johannsen/arena/internal/testutil"
)

func setupResults(t *testing.T) *postgres.ResultRepository {
	t.Helper()
	return postgres.NewResultRepository(testutil.MigratedPool(t).DB())
}

func makeResult(room, player string, kills, deaths, score int) postgres.PlayerResult {
	joined := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return postgres.PlayerResult{
		RoomID:     room,
		PlayerID:   player,
		PlayerName: "name_" + player,
		GameMode:   "default",
		Kills:      kills,
		Deaths:     deaths,
		Score:      score,
		JoinedAt:   joined,
		LeftAt:     joined.Add(5 * time.Minute),
	}
}

func TestResultRepository(t *testing.T) {
	repo := setupResults(t)
	ctx := context.Background()

	t.Run("RecordThenListByRoom", func(t *testing.T) {
		_, err := repo.RecordResult(ctx, makeResult("room_a", "p1", 1, 2, 100))
		require.NoError(t, err)
		id, err := repo.RecordResult(ctx, makeResult("room_a", "p2", 3, 0, 300))
		require.NoError(t, err)
		assert.Positive(t, id)

		got, err := repo.ResultsForRoom(ctx, "room_a")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "p2", got[0].PlayerID)
		assert.Equal(t, 300, got[0].Score)
		assert.Equal(t, "name_p2", got[0].PlayerName)
		assert.True(t, got[0].LeftAt.After(got[0].JoinedAt))
	})

	t.Run("UnknownRoom", func(t *testing.T) {
		_, err := repo.ResultsForRoom(ctx, "nope")
		assert.ErrorIs(t, err, postgres.ErrNoResults)
	})

	t.Run("MissingIDsRejected", func(t *testing.T) {
		_, err := repo.RecordResult(ctx, makeResult("", "p1", 0, 0, 0))
		assert.Error(t, err)
	})

	t.Run("TopPlayersAggregates", func(t *testing.T) {
		_, err := repo.RecordResult(ctx, makeResult("room_b", "p1", 2, 1, 200))
		require.NoError(t, err)

		top, err := repo.TopPlayers(ctx, 10)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(top), 2)
		assert.Equal(t, "p2", top[0].PlayerID)
		assert.Equal(t, 300, top[0].Score)
		var p1 postgres.PlayerTotals
		for _, p := range top {
			if p.PlayerID == "p1" {
				p1 = p
			}
		}
		assert.Equal(t, 2, p1.Matches)
		assert.Equal(t, 3, p1.Kills)
		assert.Equal(t, 300, p1.Score)

		_, err = repo.TopPlayers(ctx, 0)
		assert.Error(t, err)
	})

	t.Run("Property_RoomCountMatchesRecords", func(t *testing.T) {
		rapid.Check(t, func(rt *rapid.T) {
			room := fmt.Sprintf("prop_%d", time.Now().UnixNano())
			n := rapid.IntRange(1, 5).Draw(rt, "n")
			for i := 0; i < n; i++ {
				score := rapid.IntRange(0, 1000).Draw(rt, "score")
				if _, err := repo.RecordResult(ctx, makeResult(room, fmt.Sprintf("p%d", i), 0, 0, score)); err != nil {
					rt.Fatalf("RecordResult: %v", err)
				}
			}
			got, err := repo.ResultsForRoom(ctx, room)
			if err != nil {
				rt.Fatalf("ResultsForRoom: %v", err)
			}
			if len(got) != n {
				rt.Fatalf("expected %d results, got %d", n, len(got))
			}
			for i := 1; i < len(got); i++ {
				if got[i].Score > got[i-1].Score {
					rt.Fatalf("results not ordered by score: %v", got)
				}
			}
		})
	})
}
