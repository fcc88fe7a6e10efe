package postgres

import (
	"context"
	"fmt"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

// MapStatsStore implements crawl.Store[crawl.MapStats]: one map summary row
// plus one row per player line.
type MapStatsStore struct {
	pool  Querier
	clock crawl.Clock
}

// NewMapStatsStore builds a MapStatsStore.
func NewMapStatsStore(pool Querier, clock crawl.Clock) (*MapStatsStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &MapStatsStore{pool: pool, clock: clock}, nil
}

const upsertMapSQL = `
INSERT INTO map_stats (
	map_id, match_id, map_name, team1, team2, score1, score2, data_complete, scraped_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (map_id) DO UPDATE SET
	match_id = EXCLUDED.match_id,
	map_name = EXCLUDED.map_name,
	team1 = EXCLUDED.team1,
	team2 = EXCLUDED.team2,
	score1 = EXCLUDED.score1,
	score2 = EXCLUDED.score2,
	data_complete = EXCLUDED.data_complete,
	scraped_at = EXCLUDED.scraped_at`

const upsertPlayerSQL = `
INSERT INTO player_stats (
	map_id, player_id, player_name, player_url, map_name, team_name,
	kills, headshots, assists, flash_assists, deaths, kast, kd_diff,
	adr, fk_diff, rating, data_complete, scraped_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (map_id, player_id) DO UPDATE SET
	player_name = EXCLUDED.player_name,
	player_url = EXCLUDED.player_url,
	map_name = EXCLUDED.map_name,
	team_name = EXCLUDED.team_name,
	kills = EXCLUDED.kills,
	headshots = EXCLUDED.headshots,
	assists = EXCLUDED.assists,
	flash_assists = EXCLUDED.flash_assists,
	deaths = EXCLUDED.deaths,
	kast = EXCLUDED.kast,
	kd_diff = EXCLUDED.kd_diff,
	adr = EXCLUDED.adr,
	fk_diff = EXCLUDED.fk_diff,
	rating = EXCLUDED.rating,
	data_complete = EXCLUDED.data_complete,
	scraped_at = EXCLUDED.scraped_at`

// Upsert writes the map row and every player row. Player rows whose id could
// not be extracted are keyed by name so they still land somewhere queryable.
func (s *MapStatsStore) Upsert(ctx context.Context, stats crawl.MapStats) error {
	if stats.Map.ID == "" {
		return &crawl.StoreError{Entity: "map_stats", Err: fmt.Errorf("empty map id")}
	}
	now := s.clock.Now()

	m := stats.Map
	if _, err := s.pool.Exec(ctx, upsertMapSQL,
		m.ID, m.MatchID, m.Name, m.Team1, m.Team2, m.Score1, m.Score2, m.DataComplete, now,
	); err != nil {
		return &crawl.StoreError{Entity: "map_stats", Err: fmt.Errorf("upsert map %s: %w", m.ID, err)}
	}

	for _, p := range stats.Players {
		playerID := p.PlayerID
		if playerID == "" {
			playerID = p.PlayerName
		}
		if _, err := s.pool.Exec(ctx, upsertPlayerSQL,
			p.MapID, playerID, p.PlayerName, p.PlayerURL, p.MapName, p.TeamName,
			p.Kills, p.Headshots, p.Assists, p.FlashAssists, p.Deaths, p.KAST,
			p.KDDiff, p.ADR, p.FKDiff, p.Rating, p.DataComplete, now,
		); err != nil {
			return &crawl.StoreError{Entity: "player_stats", Err: fmt.Errorf("upsert player %s on map %s: %w", playerID, p.MapID, err)}
		}
	}
	return nil
}
