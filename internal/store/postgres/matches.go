// Package postgres persists parsed entities. Every write is an upsert keyed
// on the entity's external id so replays after a crash converge on the same
// rows.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

// Querier is the subset of pgxpool.Pool the stores need. pgxmock satisfies
// it for tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MatchStore implements crawl.Store[crawl.Match].
type MatchStore struct {
	pool  Querier
	clock crawl.Clock
}

// NewMatchStore builds a MatchStore.
func NewMatchStore(pool Querier, clock crawl.Clock) (*MatchStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &MatchStore{pool: pool, clock: clock}, nil
}

const upsertMatchSQL = `
INSERT INTO matches (
	match_id, url, team1, team2, score1, score2, winner, event,
	best_of, forfeit, match_date, map_links, demo_link, data_complete, scraped_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (match_id) DO UPDATE SET
	url = EXCLUDED.url,
	team1 = EXCLUDED.team1,
	team2 = EXCLUDED.team2,
	score1 = EXCLUDED.score1,
	score2 = EXCLUDED.score2,
	winner = EXCLUDED.winner,
	event = EXCLUDED.event,
	best_of = EXCLUDED.best_of,
	forfeit = EXCLUDED.forfeit,
	match_date = EXCLUDED.match_date,
	map_links = EXCLUDED.map_links,
	demo_link = EXCLUDED.demo_link,
	data_complete = EXCLUDED.data_complete,
	scraped_at = EXCLUDED.scraped_at`

// Upsert writes one match row.
func (s *MatchStore) Upsert(ctx context.Context, match crawl.Match) error {
	if match.ID == "" {
		return &crawl.StoreError{Entity: "match", Err: fmt.Errorf("empty match id")}
	}
	_, err := s.pool.Exec(ctx, upsertMatchSQL,
		match.ID, match.URL, match.Team1, match.Team2, match.Score1, match.Score2,
		match.Winner, match.Event, match.BestOf, match.Forfeit, match.Date,
		match.MapLinks, match.DemoLink, match.DataComplete, s.clock.Now(),
	)
	if err != nil {
		return &crawl.StoreError{Entity: "match", Err: fmt.Errorf("upsert match %s: %w", match.ID, err)}
	}
	return nil
}
